package memoria

import (
	"strings"
	"sync"
)

// EntradaTLB cachea la PTE de una página virtual
type EntradaTLB struct {
	Pagina    uint64
	Entrada   PTE
	Carga     uint64
	UltimoUso uint64
	valida    bool
}

// TLB es la caché de traducciones de un hart
type TLB struct {
	mu        sync.Mutex
	entradas  []EntradaTLB
	algoritmo string
	reloj     uint64
	metricas  *Metricas
}

// NuevaTLB crea una TLB con reemplazo FIFO o LRU. Con cero entradas queda deshabilitada.
func NuevaTLB(cantidad int, algoritmo string, m *Metricas) *TLB {
	if cantidad < 0 {
		cantidad = 0
	}
	algoritmo = strings.ToUpper(algoritmo)
	if algoritmo != "LRU" {
		algoritmo = "FIFO"
	}
	if m == nil {
		m = &Metricas{}
	}
	return &TLB{
		entradas:  make([]EntradaTLB, cantidad),
		algoritmo: algoritmo,
		metricas:  m,
	}
}

// Buscar devuelve la PTE cacheada de la página
func (t *TLB) Buscar(pagina uint64) (PTE, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entradas {
		e := &t.entradas[i]
		if e.valida && e.Pagina == pagina {
			t.reloj++
			e.UltimoUso = t.reloj
			t.metricas.AciertosTLB.Add(1)
			return e.Entrada, true
		}
	}
	t.metricas.FallosTLB.Add(1)
	return 0, false
}

// Actualizar carga o refresca una traducción, reemplazando una víctima si está llena
func (t *TLB) Actualizar(pagina uint64, pte PTE) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entradas) == 0 {
		return
	}
	t.reloj++

	victima := -1
	for i, e := range t.entradas {
		if e.valida && e.Pagina == pagina {
			t.entradas[i].Entrada = pte
			t.entradas[i].UltimoUso = t.reloj
			return
		}
		if !e.valida && victima == -1 {
			victima = i
		}
	}

	if victima == -1 {
		victima = 0
		for i, e := range t.entradas {
			switch t.algoritmo {
			case "LRU":
				if e.UltimoUso < t.entradas[victima].UltimoUso {
					victima = i
				}
			default:
				if e.Carga < t.entradas[victima].Carga {
					victima = i
				}
			}
		}
	}

	t.entradas[victima] = EntradaTLB{
		Pagina:    pagina,
		Entrada:   pte,
		Carga:     t.reloj,
		UltimoUso: t.reloj,
		valida:    true,
	}
}

// Invalidar descarta la traducción de una página
func (t *TLB) Invalidar(pagina uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entradas {
		if t.entradas[i].Pagina == pagina {
			t.entradas[i].valida = false
		}
	}
}

// Vaciar descarta todas las traducciones (cambio de tabla de páginas)
func (t *TLB) Vaciar() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entradas {
		t.entradas[i].valida = false
	}
}

// Validas cuenta las entradas en uso
func (t *TLB) Validas() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entradas {
		if e.valida {
			n++
		}
	}
	return n
}
