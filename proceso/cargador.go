package proceso

import (
	"errors"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
)

var (
	ErrFormato = errors.New("binario con formato inválido")
	ErrES      = errors.New("error de entrada/salida al leer el binario")
)

// Imagen describe el programa cargado en un proceso
type Imagen struct {
	Ruta    string
	Entrada uint64
}

// Destino es el espacio de direcciones donde el cargador ubica los segmentos
type Destino interface {
	// MapearSegmento copia contenido a páginas nuevas desde va. R|X es CODIGO y R|W es DATOS.
	MapearSegmento(va uint64, contenido []byte, perm memoria.PTE) error
}

// Cargador ubica un binario en un espacio de direcciones
type Cargador interface {
	Existe(ruta string) bool
	Cargar(destino Destino, ruta string) (*Imagen, error)
}
