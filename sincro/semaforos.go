// Package sincro implementa los semáforos de los procesos de usuario.
package sincro

import (
	"errors"
	"fmt"
	"sync"

	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

var (
	ErrSinSemaforos     = errors.New("no hay semáforos libres")
	ErrSemaforoInvalido = errors.New("semáforo inválido")
)

// semaforo es un contador con cola FIFO de procesos bloqueados
type semaforo struct {
	enUso  bool
	valor  int
	cabeza *proceso.PCB
	cola   *proceso.PCB
}

// Semaforos es el pool fijo de semáforos del núcleo
type Semaforos struct {
	mu   sync.Mutex
	pool []semaforo
}

// ResumenSemaforo es la vista serializable de un semáforo en uso
type ResumenSemaforo struct {
	ID         int   `json:"id"`
	Valor      int   `json:"valor"`
	Bloqueados []int `json:"bloqueados"`
}

func Nuevos(cantidad int) *Semaforos {
	return &Semaforos{pool: make([]semaforo, cantidad)}
}

// Nuevo toma el primer slot libre
func (s *Semaforos) Nuevo(valor int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.pool {
		if !s.pool[id].enUso {
			s.pool[id] = semaforo{enUso: true, valor: valor}
			utils.InfoLog.Debug("Semáforo creado", "id", id, "valor", valor)
			return id, nil
		}
	}
	utils.ErrorLog.Error("No hay semáforos libres", "cantidad", len(s.pool))
	return -1, ErrSinSemaforos
}

func (s *Semaforos) obtener(id int) (*semaforo, error) {
	if id < 0 || id >= len(s.pool) || !s.pool[id].enUso {
		return nil, fmt.Errorf("semáforo %d: %w", id, ErrSemaforoInvalido)
	}
	return &s.pool[id], nil
}

// P decrementa el semáforo. Si queda negativo encola a actual y lo pasa a BLOCKED;
// el llamador debe entonces ceder el hart.
func (s *Semaforos) P(id int, actual *proceso.PCB) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem, err := s.obtener(id)
	if err != nil {
		return false, err
	}
	sem.valor--
	if sem.valor >= 0 {
		return false, nil
	}

	actual.SiguienteEnCola = nil
	if sem.cola == nil {
		sem.cabeza = actual
	} else {
		sem.cola.SiguienteEnCola = actual
	}
	sem.cola = actual
	actual.CambiarEstado(proceso.EstadoBlocked)
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Bloqueado por semáforo %d", actual.PID, id))
	return true, nil
}

// V incrementa el semáforo y devuelve el primer proceso que esperaba, o nil
func (s *Semaforos) V(id int) (*proceso.PCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem, err := s.obtener(id)
	if err != nil {
		return nil, err
	}
	sem.valor++

	p := sem.cabeza
	if p == nil {
		return nil, nil
	}
	sem.cabeza = p.SiguienteEnCola
	if sem.cabeza == nil {
		sem.cola = nil
	}
	p.SiguienteEnCola = nil
	return p, nil
}

// Esperando devuelve los pids bloqueados en orden de llegada
func (s *Semaforos) Esperando(id int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem, err := s.obtener(id)
	if err != nil {
		return nil, err
	}
	return sem.bloqueados(), nil
}

func (sem *semaforo) bloqueados() []int {
	pids := []int{}
	for p := sem.cabeza; p != nil; p = p.SiguienteEnCola {
		pids = append(pids, p.PID)
	}
	return pids
}

func (s *Semaforos) Resumen() []ResumenSemaforo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []ResumenSemaforo
	for id := range s.pool {
		sem := &s.pool[id]
		if sem.enUso {
			res = append(res, ResumenSemaforo{ID: id, Valor: sem.valor, Bloqueados: sem.bloqueados()})
		}
	}
	return res
}
