package proceso

import (
	"fmt"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// espacioHeap le da al heap de un proceso la capacidad de mapear y traducir
type espacioHeap struct {
	p      *PCB
	fisica *memoria.Fisica
}

func (e *espacioHeap) MapearPaginas(va uint64, n int) error {
	if err := e.p.Segmentos.PuedeCrecer(SegmentoHeap, n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		actual := va + uint64(i)*memoria.TamPagina
		if _, err := mapearNuevo(e.fisica, e.p.Tabla, actual, memoria.PTE_R|memoria.PTE_W|memoria.PTE_U); err != nil {
			if i > 0 {
				if errDes := e.p.Tabla.Desmapear(va, i, true); errDes != nil {
					utils.ErrorLog.Error("No se pudo deshacer el crecimiento del heap",
						"pid", e.p.PID, "va", fmt.Sprintf("%#x", va), "paginas", i, "error", errDes)
				}
			}
			return err
		}
	}
	return e.p.Segmentos.Crecer(SegmentoHeap, n)
}

func (e *espacioHeap) Traducir(va uint64) (uint64, error) {
	return e.p.Tabla.Traducir(va)
}

// destinoCarga recibe los segmentos que arma el cargador
type destinoCarga struct {
	p      *PCB
	fisica *memoria.Fisica
}

func (d *destinoCarga) MapearSegmento(va uint64, contenido []byte, perm memoria.PTE) error {
	var tipo TipoSegmento
	rwx := perm & (memoria.PTE_R | memoria.PTE_W | memoria.PTE_X)
	switch rwx {
	case memoria.PTE_R | memoria.PTE_X:
		tipo = SegmentoCodigo
	case memoria.PTE_R | memoria.PTE_W:
		tipo = SegmentoDatos
	default:
		return fmt.Errorf("permisos %s en %#x: %w", perm, va, ErrFormato)
	}
	if va%memoria.TamPagina != 0 {
		return fmt.Errorf("segmento en %#x: %w", va, ErrFormato)
	}

	paginas := (len(contenido) + memoria.TamPagina - 1) / memoria.TamPagina
	if paginas == 0 {
		paginas = 1
	}
	seg := Segmento{Base: va, Paginas: paginas, Tipo: tipo}
	if err := d.p.Segmentos.Agregar(seg); err != nil {
		return err
	}

	for i := 0; i < paginas; i++ {
		pa, err := mapearNuevo(d.fisica, d.p.Tabla, va+uint64(i)*memoria.TamPagina, rwx|memoria.PTE_U)
		if err != nil {
			return err
		}
		desde := i * memoria.TamPagina
		hasta := min(desde+memoria.TamPagina, len(contenido))
		if desde < hasta {
			if err := d.fisica.Escribir(pa, contenido[desde:hasta]); err != nil {
				return err
			}
		}
	}
	return nil
}

// mapearNuevo reserva un marco y lo mapea en va; si no se puede mapear lo devuelve
func mapearNuevo(f *memoria.Fisica, tabla *memoria.TablaPaginas, va uint64, perm memoria.PTE) (uint64, error) {
	pa, err := f.AsignarMarco()
	if err != nil {
		return 0, err
	}
	if err := tabla.Mapear(va, memoria.TamPagina, pa, perm); err != nil {
		f.LiberarMarco(pa)
		return 0, err
	}
	return pa, nil
}
