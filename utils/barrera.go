package utils

import "sync"

// Barrera es una barrera cíclica para n participantes
type Barrera struct {
	mu         sync.Mutex
	cond       *sync.Cond
	total      int
	esperando  int
	generacion int
}

// NuevaBarrera crea una barrera para n participantes
func NuevaBarrera(n int) *Barrera {
	if n <= 0 {
		n = 1
	}
	b := &Barrera{total: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Esperar bloquea hasta que llegan todos los participantes.
// Devuelve true para exactamente uno de ellos (el último en llegar).
func (b *Barrera) Esperar() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	generacion := b.generacion
	b.esperando++
	if b.esperando == b.total {
		b.esperando = 0
		b.generacion++
		b.cond.Broadcast()
		return true
	}

	for generacion == b.generacion {
		b.cond.Wait()
	}
	return false
}
