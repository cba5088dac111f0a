package memoria

import "errors"

var (
	ErrSinMarcos     = errors.New("no hay marcos libres")
	ErrNoMapeada     = errors.New("dirección virtual no mapeada")
	ErrNoAlineada    = errors.New("dirección o largo no alineado a página")
	ErrProteccion    = errors.New("violación de protección")
	ErrCOW           = errors.New("escritura sobre página copy-on-write")
	ErrFueraDeRango  = errors.New("dirección fuera del rango válido")
	ErrMarcoInvalido = errors.New("marco físico inválido")
)
