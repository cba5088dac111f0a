package proceso

import (
	"errors"
	"fmt"
	"sync"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
)

// TipoSegmento clasifica una región del espacio de direcciones
type TipoSegmento int

const (
	SegmentoCodigo TipoSegmento = iota
	SegmentoDatos
	SegmentoPila
	SegmentoHeap
	SegmentoContexto
	SegmentoVectorTrap
)

func (t TipoSegmento) String() string {
	switch t {
	case SegmentoCodigo:
		return "CODIGO"
	case SegmentoDatos:
		return "DATOS"
	case SegmentoPila:
		return "PILA"
	case SegmentoHeap:
		return "HEAP"
	case SegmentoContexto:
		return "CONTEXTO"
	case SegmentoVectorTrap:
		return "VECTOR_TRAP"
	default:
		return fmt.Sprintf("SEGMENTO(%d)", int(t))
	}
}

// unico indica los tipos que pueden aparecer una sola vez por proceso
func (t TipoSegmento) unico() bool {
	return t == SegmentoPila || t == SegmentoContexto || t == SegmentoVectorTrap || t == SegmentoHeap
}

const MaxSegmentos = 16

var (
	ErrSolapamiento        = errors.New("segmento solapado con otro existente")
	ErrSegmentosLlenos     = errors.New("tabla de segmentos llena")
	ErrSegmentoDuplicado   = errors.New("segmento único repetido")
	ErrSegmentoInexistente = errors.New("segmento inexistente")
	ErrCrecimientoInvalido = errors.New("crecimiento de segmento inválido")
)

// Segmento es un rango de páginas virtuales con un único uso
type Segmento struct {
	Base    uint64       `json:"base"`
	Paginas int          `json:"paginas"`
	Tipo    TipoSegmento `json:"tipo"`
}

func (s Segmento) Fin() uint64 {
	return s.Base + uint64(s.Paginas)*memoria.TamPagina
}

func (s Segmento) Contiene(va uint64) bool {
	return va >= s.Base && va < s.Fin()
}

func (s Segmento) solapa(o Segmento) bool {
	if s.Paginas == 0 || o.Paginas == 0 {
		return false
	}
	return s.Base < o.Fin() && o.Base < s.Fin()
}

// Segmentos es el registro de segmentos de un proceso. La consola lo lee mientras
// el proceso corre, por eso cada operación toma el lock.
type Segmentos struct {
	mu       sync.Mutex
	entradas [MaxSegmentos]Segmento
	cantidad int
}

// Agregar registra un segmento nuevo si no se solapa con los existentes
func (s *Segmentos) Agregar(seg Segmento) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg.Base%memoria.TamPagina != 0 || seg.Paginas < 0 {
		return fmt.Errorf("segmento %s en %#x: %w", seg.Tipo, seg.Base, memoria.ErrNoAlineada)
	}
	if s.cantidad == MaxSegmentos {
		return ErrSegmentosLlenos
	}
	for _, e := range s.entradas[:s.cantidad] {
		if seg.Tipo.unico() && e.Tipo == seg.Tipo {
			return fmt.Errorf("%s: %w", seg.Tipo, ErrSegmentoDuplicado)
		}
		if e.solapa(seg) {
			return fmt.Errorf("%s [%#x, %#x) con %s [%#x, %#x): %w",
				seg.Tipo, seg.Base, seg.Fin(), e.Tipo, e.Base, e.Fin(), ErrSolapamiento)
		}
	}
	s.entradas[s.cantidad] = seg
	s.cantidad++
	return nil
}

// Crecer agrega páginas al final del segmento único del tipo dado
func (s *Segmentos) Crecer(tipo TipoSegmento, paginas int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, crecido, err := s.crecido(tipo, paginas)
	if err != nil {
		return err
	}
	s.entradas[i] = crecido
	return nil
}

// PuedeCrecer verifica sin modificar nada que el segmento admita paginas más
func (s *Segmentos) PuedeCrecer(tipo TipoSegmento, paginas int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _, err := s.crecido(tipo, paginas)
	return err
}

func (s *Segmentos) crecido(tipo TipoSegmento, paginas int) (int, Segmento, error) {
	if paginas < 0 {
		return 0, Segmento{}, fmt.Errorf("crecer %s %d páginas: %w", tipo, paginas, ErrCrecimientoInvalido)
	}
	for i := range s.entradas[:s.cantidad] {
		if s.entradas[i].Tipo != tipo {
			continue
		}
		crecido := s.entradas[i]
		crecido.Paginas += paginas
		if crecido.Fin() < crecido.Base {
			return 0, Segmento{}, fmt.Errorf("crecer %s: %w", tipo, ErrSolapamiento)
		}
		for j, e := range s.entradas[:s.cantidad] {
			if j != i && e.solapa(crecido) {
				return 0, Segmento{}, fmt.Errorf("crecer %s hasta %#x: %w", tipo, crecido.Fin(), ErrSolapamiento)
			}
		}
		return i, crecido, nil
	}
	return 0, Segmento{}, fmt.Errorf("%s: %w", tipo, ErrSegmentoInexistente)
}

// Buscar devuelve el segmento que contiene va
func (s *Segmentos) Buscar(va uint64) (Segmento, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entradas[:s.cantidad] {
		if e.Contiene(va) {
			return e, true
		}
	}
	return Segmento{}, false
}

// DeTipo devuelve el primer segmento del tipo dado
func (s *Segmentos) DeTipo(tipo TipoSegmento) (Segmento, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entradas[:s.cantidad] {
		if e.Tipo == tipo {
			return e, true
		}
	}
	return Segmento{}, false
}

// Todos devuelve una copia de los segmentos registrados
func (s *Segmentos) Todos() []Segmento {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Segmento(nil), s.entradas[:s.cantidad]...)
}

func (s *Segmentos) Limpiar() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entradas = [MaxSegmentos]Segmento{}
	s.cantidad = 0
}
