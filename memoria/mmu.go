package memoria

import (
	"errors"
	"fmt"
)

// Acceso es el tipo de referencia a memoria que provoca una traducción
type Acceso int

const (
	Lectura Acceso = iota
	Escritura
	Ejecucion
)

func (a Acceso) String() string {
	switch a {
	case Escritura:
		return "escritura"
	case Ejecucion:
		return "ejecución"
	default:
		return "lectura"
	}
}

// FalloPagina describe una traducción fallida
type FalloPagina struct {
	VA     uint64
	Acceso Acceso
	Causa  error
}

func (f *FalloPagina) Error() string {
	return fmt.Sprintf("fallo de página de %s en %#x: %v", f.Acceso, f.VA, f.Causa)
}

func (f *FalloPagina) Unwrap() error {
	return f.Causa
}

// EsCOW indica si el fallo se resuelve copiando la página
func (f *FalloPagina) EsCOW() bool {
	return errors.Is(f.Causa, ErrCOW)
}

// MMU traduce direcciones de usuario de un hart usando su TLB y la tabla activa
type MMU struct {
	tlb   *TLB
	tabla *TablaPaginas
}

func NuevaMMU(tlb *TLB) *MMU {
	return &MMU{tlb: tlb}
}

// Activar instala una tabla de páginas y vacía la TLB
func (m *MMU) Activar(t *TablaPaginas) {
	m.tabla = t
	m.tlb.Vaciar()
}

func (m *MMU) Tabla() *TablaPaginas {
	return m.tabla
}

func (m *MMU) TLB() *TLB {
	return m.tlb
}

// Invalidar descarta la traducción cacheada de va
func (m *MMU) Invalidar(va uint64) {
	m.tlb.Invalidar(va >> DesplazamientoPagina)
}

// Traducir resuelve va para el acceso pedido; los errores son *FalloPagina
func (m *MMU) Traducir(va uint64, acceso Acceso) (uint64, error) {
	if m.tabla == nil {
		return 0, &FalloPagina{VA: va, Acceso: acceso, Causa: ErrNoMapeada}
	}

	pagina := va >> DesplazamientoPagina
	pte, ok := m.tlb.Buscar(pagina)
	if !ok || (acceso == Escritura && pte.Tiene(PTE_W) && !pte.Tiene(PTE_D)) {
		var err error
		pte, err = m.tabla.Acceder(va, acceso == Escritura)
		if err != nil {
			return 0, &FalloPagina{VA: va, Acceso: acceso, Causa: err}
		}
		m.tlb.Actualizar(pagina, pte)
	}

	if err := permitir(pte, acceso); err != nil {
		return 0, &FalloPagina{VA: va, Acceso: acceso, Causa: err}
	}
	return pte.Fisica() | (va & (TamPagina - 1)), nil
}

func permitir(pte PTE, acceso Acceso) error {
	if !pte.Valida() || !pte.Tiene(PTE_U) {
		return ErrNoMapeada
	}
	switch acceso {
	case Escritura:
		if pte.Tiene(PTE_W) {
			return nil
		}
		if pte.Tiene(PTE_COW) {
			return ErrCOW
		}
		return ErrProteccion
	case Ejecucion:
		if !pte.Tiene(PTE_X) {
			return ErrProteccion
		}
	default:
		if !pte.Tiene(PTE_R) {
			return ErrProteccion
		}
	}
	return nil
}
