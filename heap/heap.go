// Package heap implementa el allocator de heap de un proceso: listas de bloques
// libres (ordenada por capacidad) y usados sobre la región de heap virtual.
package heap

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/LucasIBorrat/nucleo-pke/utils"
)

const (
	// TamCabecera es el tamaño del encabezado de cada bloque; también la alineación
	TamCabecera = 16
	TamPagina   = 4096

	// LimiteVA es el tope del espacio virtual de usuario (Sv39)
	LimiteVA uint64 = 1 << 38
)

var (
	ErrBloqueInvalido = errors.New("dirección que no corresponde a un bloque en uso")
	ErrTamanoInvalido = errors.New("tamaño de reserva inválido")
	ErrInconsistente  = errors.New("heap inconsistente")
)

// Espacio es la capacidad que el heap necesita del espacio de direcciones del proceso
type Espacio interface {
	// MapearPaginas mapea n páginas nuevas lectura/escritura a partir de va
	MapearPaginas(va uint64, n int) error
	// Traducir devuelve la dirección física de va
	Traducir(va uint64) (uint64, error)
}

// Manejador identifica un bloque dentro de la arena
type Manejador int

const nulo Manejador = -1

// Bloque describe una región del heap. La capacidad incluye el encabezado.
type Bloque struct {
	Dir       uint64
	Capacidad uint64
	Sig       Manejador
}

// Fin es la primera dirección después del bloque
func (b Bloque) Fin() uint64 {
	return b.Dir + b.Capacidad
}

// Heap es el estado del allocator de un proceso. Solo la frontera se lee desde
// fuera del proceso dueño.
type Heap struct {
	espacio  Espacio
	base     uint64
	frontera atomic.Uint64
	bloques  []Bloque
	libres   Manejador
	usados   Manejador
}

// Nuevo crea un heap vacío cuya frontera arranca en base
func Nuevo(espacio Espacio, base uint64) *Heap {
	h := &Heap{
		espacio: espacio,
		base:    base,
		libres:  nulo,
		usados:  nulo,
	}
	h.frontera.Store(base)
	return h
}

func alinear(dir uint64) uint64 {
	return (dir + TamCabecera - 1) &^ (TamCabecera - 1)
}

func paginasPara(bytes uint64) int {
	return int((bytes + TamPagina - 1) / TamPagina)
}

// Reservar devuelve la dirección virtual de n bytes utilizables
func (h *Heap) Reservar(n uint64) (uint64, error) {
	if n == 0 || h.base >= LimiteVA || n > LimiteVA-h.base-TamCabecera {
		return 0, fmt.Errorf("reservar %d bytes: %w", n, ErrTamanoInvalido)
	}
	necesario := n + TamCabecera

	// Primer ajuste sobre la lista ordenada por capacidad
	anterior := nulo
	for m := h.libres; m != nulo; m = h.bloques[m].Sig {
		if h.bloques[m].Capacidad >= necesario {
			h.desenlazar(&h.libres, anterior, m)
			return h.entregar(m, n), nil
		}
		anterior = m
	}

	// Extender en el lugar el bloque libre que termina en la frontera
	if m, anterior, ok := h.bloqueEnFrontera(); ok {
		faltan := necesario - h.bloques[m].Capacidad
		paginas := paginasPara(faltan)
		if err := h.crecer(paginas); err != nil {
			return 0, err
		}
		h.desenlazar(&h.libres, anterior, m)
		h.bloques[m].Capacidad += uint64(paginas) * TamPagina
		utils.InfoLog.Debug("Bloque de cola extendido", "dir", fmt.Sprintf("%#x", h.bloques[m].Dir), "paginas", paginas)
		return h.entregar(m, n), nil
	}

	// Páginas nuevas desde la frontera
	paginas := paginasPara(necesario)
	dir := h.frontera.Load()
	if err := h.crecer(paginas); err != nil {
		return 0, err
	}
	m := h.nuevoBloque(dir, uint64(paginas)*TamPagina)
	return h.entregar(m, n), nil
}

// Liberar devuelve a la lista de libres el bloque cuya dirección utilizable es va
func (h *Heap) Liberar(va uint64) error {
	if va < h.base+TamCabecera {
		return fmt.Errorf("liberar %#x: %w", va, ErrBloqueInvalido)
	}
	dir := va - TamCabecera

	anterior := nulo
	for m := h.usados; m != nulo; m = h.bloques[m].Sig {
		if h.bloques[m].Dir == dir {
			h.desenlazar(&h.usados, anterior, m)
			h.insertarLibre(m)
			return nil
		}
		anterior = m
	}
	return fmt.Errorf("liberar %#x: %w", va, ErrBloqueInvalido)
}

// Clonar copia la contabilidad del heap sobre otro espacio (fork)
func (h *Heap) Clonar(espacio Espacio) *Heap {
	clon := &Heap{
		espacio: espacio,
		base:    h.base,
		bloques: append([]Bloque(nil), h.bloques...),
		libres:  h.libres,
		usados:  h.usados,
	}
	clon.frontera.Store(h.frontera.Load())
	return clon
}

func (h *Heap) crecer(paginas int) error {
	frontera := h.frontera.Load()
	if err := h.espacio.MapearPaginas(frontera, paginas); err != nil {
		return fmt.Errorf("crecer heap en %#x: %w", frontera, err)
	}
	h.frontera.Store(frontera + uint64(paginas)*TamPagina)
	return nil
}

func (h *Heap) nuevoBloque(dir, capacidad uint64) Manejador {
	h.bloques = append(h.bloques, Bloque{Dir: dir, Capacidad: capacidad, Sig: nulo})
	return Manejador(len(h.bloques) - 1)
}

// entregar corta el bloque a la medida de n, deja el sobrante en libres y lo pasa a usados
func (h *Heap) entregar(m Manejador, n uint64) uint64 {
	b := &h.bloques[m]
	corte := alinear(b.Dir + TamCabecera + n)
	if fin := b.Fin(); fin > corte && fin-corte > TamCabecera {
		resto := fin - corte
		b.Capacidad = corte - b.Dir
		r := h.nuevoBloque(corte, resto)
		h.insertarLibre(r)
	}

	b = &h.bloques[m]
	b.Sig = h.usados
	h.usados = m
	return b.Dir + TamCabecera
}

// insertarLibre mantiene el orden ascendente por capacidad; los iguales quedan en orden de llegada
func (h *Heap) insertarLibre(m Manejador) {
	capacidad := h.bloques[m].Capacidad
	anterior := nulo
	actual := h.libres
	for actual != nulo && h.bloques[actual].Capacidad <= capacidad {
		anterior = actual
		actual = h.bloques[actual].Sig
	}
	h.bloques[m].Sig = actual
	if anterior == nulo {
		h.libres = m
	} else {
		h.bloques[anterior].Sig = m
	}
}

func (h *Heap) desenlazar(cabeza *Manejador, anterior, m Manejador) {
	if anterior == nulo {
		*cabeza = h.bloques[m].Sig
	} else {
		h.bloques[anterior].Sig = h.bloques[m].Sig
	}
	h.bloques[m].Sig = nulo
}

func (h *Heap) bloqueEnFrontera() (m, anterior Manejador, ok bool) {
	anterior = nulo
	for m = h.libres; m != nulo; m = h.bloques[m].Sig {
		if h.bloques[m].Fin() == h.frontera.Load() {
			return m, anterior, true
		}
		anterior = m
	}
	return nulo, nulo, false
}

func (h *Heap) lista(cabeza Manejador) []Bloque {
	var res []Bloque
	for m := cabeza; m != nulo; m = h.bloques[m].Sig {
		res = append(res, h.bloques[m])
	}
	return res
}

// Libres devuelve los bloques libres en el orden de la lista
func (h *Heap) Libres() []Bloque {
	return h.lista(h.libres)
}

// Usados devuelve los bloques en uso, el más reciente primero
func (h *Heap) Usados() []Bloque {
	return h.lista(h.usados)
}

// Bloques devuelve todos los bloques, libres y usados, ordenados por dirección
func (h *Heap) Bloques() []Bloque {
	res := append(h.Libres(), h.Usados()...)
	sort.Slice(res, func(i, j int) bool { return res[i].Dir < res[j].Dir })
	return res
}

func (h *Heap) Base() uint64 {
	return h.base
}

// Frontera es la próxima dirección virtual sin mapear del heap
func (h *Heap) Frontera() uint64 {
	return h.frontera.Load()
}

// PaginasMapeadas cuenta las páginas que el heap lleva mapeadas
func (h *Heap) PaginasMapeadas() int {
	return int((h.frontera.Load() - h.base) / TamPagina)
}

// RecorrerPaginas visita, una sola vez y en orden, cada página que cubren los bloques libres y usados
func (h *Heap) RecorrerPaginas(fn func(va, pa uint64) error) error {
	vistas := make(map[uint64]bool)
	for _, cabeza := range []Manejador{h.libres, h.usados} {
		for m := cabeza; m != nulo; m = h.bloques[m].Sig {
			b := h.bloques[m]
			for va := b.Dir &^ (TamPagina - 1); va < b.Fin(); va += TamPagina {
				vistas[va] = true
			}
		}
	}

	paginas := make([]uint64, 0, len(vistas))
	for va := range vistas {
		paginas = append(paginas, va)
	}
	sort.Slice(paginas, func(i, j int) bool { return paginas[i] < paginas[j] })

	for _, va := range paginas {
		pa, err := h.espacio.Traducir(va)
		if err != nil {
			return fmt.Errorf("página de heap %#x: %w", va, err)
		}
		if err := fn(va, pa); err != nil {
			return err
		}
	}
	return nil
}

// Verificar comprueba que las listas sean disjuntas, que libres esté ordenada
// y que los bloques cubran exactamente [base, frontera)
func (h *Heap) Verificar() error {
	enLista := make(map[Manejador]bool)
	var todos []Bloque

	for _, cabeza := range []Manejador{h.libres, h.usados} {
		for m := cabeza; m != nulo; m = h.bloques[m].Sig {
			if enLista[m] {
				return fmt.Errorf("bloque %#x en más de una lista: %w", h.bloques[m].Dir, ErrInconsistente)
			}
			enLista[m] = true
			todos = append(todos, h.bloques[m])
		}
	}

	libres := h.Libres()
	for i := 1; i < len(libres); i++ {
		if libres[i-1].Capacidad > libres[i].Capacidad {
			return fmt.Errorf("lista de libres desordenada en %#x: %w", libres[i].Dir, ErrInconsistente)
		}
	}

	sort.Slice(todos, func(i, j int) bool { return todos[i].Dir < todos[j].Dir })
	esperado := h.base
	for _, b := range todos {
		if b.Dir != esperado {
			return fmt.Errorf("hueco o solapamiento en %#x (esperado %#x): %w", b.Dir, esperado, ErrInconsistente)
		}
		if b.Capacidad <= TamCabecera {
			return fmt.Errorf("bloque %#x sin espacio utilizable: %w", b.Dir, ErrInconsistente)
		}
		esperado = b.Fin()
	}
	if frontera := h.frontera.Load(); esperado != frontera {
		return fmt.Errorf("bloques cubren hasta %#x pero la frontera es %#x: %w", esperado, frontera, ErrInconsistente)
	}
	return nil
}
