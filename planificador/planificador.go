// Package planificador reparte los procesos listos entre los harts y detecta el apagado.
package planificador

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// ErrInterbloqueo indica que todos los harts quedaron ociosos con procesos BLOCKED
var ErrInterbloqueo = errors.New("todos los procesos vivos están bloqueados")

// Motivo es la causa por la que un proceso devuelve el hart
type Motivo int

const (
	// MotivoCeder vuelve a la cola de listos del hart
	MotivoCeder Motivo = iota
	// MotivoBloqueo deja al proceso esperando un semáforo o un hijo
	MotivoBloqueo
	// MotivoSalida termina el proceso
	MotivoSalida
)

func (m Motivo) String() string {
	switch m {
	case MotivoCeder:
		return "CEDER"
	case MotivoBloqueo:
		return "BLOQUEO"
	case MotivoSalida:
		return "SALIDA"
	default:
		return fmt.Sprintf("Motivo(%d)", int(m))
	}
}

// Maquina ejecuta procesos en un hart hasta que vuelven al núcleo
type Maquina interface {
	Reanudar(h *Hart, p *proceso.PCB) Motivo
	Apagar()
}

// Opciones configura el planificador
type Opciones struct {
	Harts                 int
	EntradasTLB           int
	ReemplazoTLB          string
	RetardoCambioContexto int
	IntervaloTimer        time.Duration
}

// Planificador es el despachador de todos los harts
type Planificador struct {
	tabla   *proceso.Tabla
	maquina Maquina
	harts   []*Hart
	opc     Opciones

	mu        sync.Mutex
	cond      *sync.Cond
	ociosos   int
	terminado bool
	err       error
	barrera   *utils.Barrera
}

func Nuevo(tabla *proceso.Tabla, maquina Maquina, opc Opciones) *Planificador {
	if opc.Harts <= 0 {
		opc.Harts = 1
	}
	pl := &Planificador{
		tabla:   tabla,
		maquina: maquina,
		opc:     opc,
		barrera: utils.NuevaBarrera(opc.Harts),
	}
	pl.cond = sync.NewCond(&pl.mu)

	metricas := tabla.Fisica().Metricas()
	for i := 0; i < opc.Harts; i++ {
		pl.harts = append(pl.harts, nuevoHart(i, memoria.NuevaTLB(opc.EntradasTLB, opc.ReemplazoTLB, metricas)))
	}
	return pl
}

func (pl *Planificador) Harts() []*Hart {
	return pl.harts
}

func (pl *Planificador) Hart(id int) *Hart {
	return pl.harts[id]
}

// InsertarEnListos agrega p al final de la cola de h (una sola vez) y lo pasa a READY
func (pl *Planificador) InsertarEnListos(h *Hart, p *proceso.PCB) {
	p.FijarHart(h.ID)
	p.CambiarEstado(proceso.EstadoReady)
	if !h.encolar(p) {
		utils.InfoLog.Debug("Proceso ya encolado", "pid", p.PID, "hart", h.ID)
		return
	}
	utils.InfoLog.Debug("Proceso en cola de listos", "pid", p.PID, "hart", h.ID)

	pl.mu.Lock()
	pl.cond.Broadcast()
	pl.mu.Unlock()
}

// Despertar devuelve a listos un proceso bloqueado, en la cola de su hart
func (pl *Planificador) Despertar(p *proceso.PCB) {
	h := pl.harts[0]
	if id := p.HartAsignado(); id >= 0 && id < len(pl.harts) {
		h = pl.harts[id]
	}
	pl.InsertarEnListos(h, p)
}

// Siguiente saca la cabeza de la cola de h, la pasa a RUNNING e instala su espacio de direcciones.
// Devuelve nil si la cola está vacía.
func (pl *Planificador) Siguiente(h *Hart) *proceso.PCB {
	p := h.desencolar()
	if p == nil {
		return nil
	}
	if e := p.Estado(); e != proceso.EstadoReady {
		panic(fmt.Sprintf("hart %d: se despachó el proceso %d en estado %s", h.ID, p.PID, e))
	}

	utils.AplicarRetardo("Cambio de contexto", pl.opc.RetardoCambioContexto)
	p.CambiarEstado(proceso.EstadoRunning)
	h.MMU.Activar(p.Tabla)

	p.Contexto.ManejadorTrap = pl.tabla.VectorTrap()
	p.Contexto.PilaKernelSP = p.PilaKernel
	p.Contexto.SatpKernel = proceso.SatpNucleo
	if err := p.GuardarContexto(pl.tabla.Fisica()); err != nil {
		utils.ErrorLog.Error("No se pudo instalar el contexto", "pid", p.PID, "error", err)
	}

	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Despachado en hart %d", p.PID, h.ID))
	return p
}

// Correr arranca un ciclo por hart y bloquea hasta el apagado
func (pl *Planificador) Correr(ctx context.Context) error {
	ctx, cancelar := context.WithCancel(ctx)
	defer cancelar()

	go func() {
		<-ctx.Done()
		pl.mu.Lock()
		if !pl.terminado {
			pl.terminado = true
			if pl.err == nil {
				pl.err = ctx.Err()
			}
		}
		pl.cond.Broadcast()
		pl.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, h := range pl.harts {
		if pl.opc.IntervaloTimer > 0 {
			go pl.timer(ctx, h)
		}
		wg.Add(1)
		go func(h *Hart) {
			defer wg.Done()
			pl.ciclo(h)
		}(h)
	}
	wg.Wait()

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if errors.Is(pl.err, context.Canceled) {
		return nil
	}
	return pl.err
}

func (pl *Planificador) ciclo(h *Hart) {
	defer func() {
		if r := recover(); r != nil {
			utils.ErrorLog.Error("PÁNICO EN HART", "hart", h.ID, "error", r)
			panic(r)
		}
	}()

	utils.InfoLog.Info("Hart iniciado", "hart", h.ID)
	for !pl.Terminado() {
		p := pl.Siguiente(h)
		if p == nil {
			if !pl.esperarTrabajo(h) {
				break
			}
			continue
		}

		motivo := pl.maquina.Reanudar(h, p)
		h.fijarActual(nil)
		utils.InfoLog.Debug("Proceso devolvió el hart", "pid", p.PID, "hart", h.ID, "motivo", motivo.String())
		if motivo == MotivoCeder {
			pl.InsertarEnListos(h, p)
		}
	}

	pl.barrera.Esperar()
	if h.ID == 0 {
		utils.InfoLog.Info("Todos los harts terminaron, apagando")
		pl.maquina.Apagar()
	}
}

// esperarTrabajo bloquea al hart ocioso. Devuelve false cuando hay que apagar.
func (pl *Planificador) esperarTrabajo(h *Hart) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	for {
		if pl.terminado {
			return false
		}
		if !h.vacio() {
			return true
		}
		if pl.tabla.Quiescente() {
			utils.InfoLog.Info("Sistema quiescente", "hart", h.ID)
			pl.terminado = true
			pl.cond.Broadcast()
			return false
		}

		pl.ociosos++
		if pl.ociosos == len(pl.harts) && pl.sinListos() {
			pl.ociosos--
			utils.ErrorLog.Error("Interbloqueo: solo quedan procesos bloqueados", "conteo", pl.tabla.Conteo())
			pl.err = ErrInterbloqueo
			pl.terminado = true
			pl.cond.Broadcast()
			return false
		}
		pl.cond.Wait()
		pl.ociosos--
	}
}

func (pl *Planificador) sinListos() bool {
	for _, h := range pl.harts {
		if !h.vacio() {
			return false
		}
	}
	return true
}

// timer marca periódicamente al hart; la marca es solo un aviso
func (pl *Planificador) timer(ctx context.Context, h *Hart) {
	ticker := time.NewTicker(pl.opc.IntervaloTimer)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.timer.Store(true)
		}
	}
}

// Terminado indica si el planificador ya decidió apagar
func (pl *Planificador) Terminado() bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.terminado
}
