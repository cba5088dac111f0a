package planificador

import (
	"sync"
	"sync/atomic"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
)

// Hart es el contexto de un núcleo: su cola de listos, el proceso actual y su MMU
type Hart struct {
	ID  int
	MMU *memoria.MMU

	mu     sync.Mutex
	cabeza *proceso.PCB
	cola   *proceso.PCB
	actual *proceso.PCB

	timer atomic.Bool
}

func nuevoHart(id int, tlb *memoria.TLB) *Hart {
	return &Hart{ID: id, MMU: memoria.NuevaMMU(tlb)}
}

// Actual devuelve el proceso que corre en el hart, o nil
func (h *Hart) Actual() *proceso.PCB {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actual
}

func (h *Hart) fijarActual(p *proceso.PCB) {
	h.mu.Lock()
	h.actual = p
	h.mu.Unlock()
}

// encolar agrega p al final si no estaba ya en la cola
func (h *Hart) encolar(p *proceso.PCB) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for q := h.cabeza; q != nil; q = q.SiguienteEnCola {
		if q == p {
			return false
		}
	}
	p.SiguienteEnCola = nil
	if h.cola == nil {
		h.cabeza = p
	} else {
		h.cola.SiguienteEnCola = p
	}
	h.cola = p
	return true
}

func (h *Hart) desencolar() *proceso.PCB {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.cabeza
	if p == nil {
		return nil
	}
	h.cabeza = p.SiguienteEnCola
	if h.cabeza == nil {
		h.cola = nil
	}
	p.SiguienteEnCola = nil
	h.actual = p
	return p
}

func (h *Hart) vacio() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cabeza == nil
}

// Listos devuelve los pids de la cola en orden
func (h *Hart) Listos() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	pids := []int{}
	for p := h.cabeza; p != nil; p = p.SiguienteEnCola {
		pids = append(pids, p.PID)
	}
	return pids
}

// TimerVencido consume la marca que deja el timer del hart
func (h *Hart) TimerVencido() bool {
	return h.timer.Swap(false)
}
