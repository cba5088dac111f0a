// Package nucleo arma el núcleo completo: memoria, procesos, planificador, semáforos
// y la interfaz de llamadas al sistema que usan los programas de usuario.
package nucleo

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/planificador"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/sincro"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// Nucleo es la máquina simulada
type Nucleo struct {
	cfg      *Config
	fisica   *memoria.Fisica
	tabla    *proceso.Tabla
	plan     *planificador.Planificador
	sems     *sincro.Semaforos
	registro *Registro
	sfs      proceso.SistemaArchivos
	modulo   *utils.Modulo

	salidaMu sync.Mutex
	salida   io.Writer

	hilosMu sync.Mutex
	hilos   map[*proceso.PCB]*hilo

	apagado    chan struct{}
	apagarOnce sync.Once
}

// hilo es la goroutine que ejecuta el código de usuario de un proceso. El hart le
// pasa el control por reanudar y lo recupera por trap.
type hilo struct {
	reanudar chan *planificador.Hart
	trap     chan planificador.Motivo
	entrada  Programa
	simbolo  string
}

// finEjecucion corta la pila del programa de usuario
type finEjecucion struct {
	exec    bool
	apagado bool
}

// Nuevo arma el núcleo a partir de la configuración. salida recibe lo que imprimen los procesos.
func Nuevo(cfg *Config, registro *Registro, salida io.Writer) (*Nucleo, error) {
	cfg.Normalizar()
	if registro == nil {
		registro = NuevoRegistro()
	}
	if salida == nil {
		salida = io.Discard
	}

	n := &Nucleo{
		cfg:      cfg,
		fisica:   memoria.NuevaFisica(cfg.TamMemoria),
		registro: registro,
		salida:   salida,
		hilos:    make(map[*proceso.PCB]*hilo),
		apagado:  make(chan struct{}),
		sems:     sincro.Nuevos(cfg.CantidadSemaforos),
	}

	if cfg.RaizHostFS != "" {
		sfs, err := proceso.NuevoHostFS(cfg.RaizHostFS)
		if err != nil {
			return nil, err
		}
		n.sfs = sfs
	}

	tabla, err := proceso.NuevaTabla(n.fisica, cfg.CantidadProcesos, registro, n.sfs)
	if err != nil {
		return nil, err
	}
	n.tabla = tabla

	n.plan = planificador.Nuevo(tabla, n, planificador.Opciones{
		Harts:                 cfg.CantidadHarts,
		EntradasTLB:           cfg.EntradasTLB,
		ReemplazoTLB:          cfg.ReemplazoTLB,
		RetardoCambioContexto: cfg.RetardoCambioContexto,
		IntervaloTimer:        time.Duration(cfg.IntervaloTimerMs) * time.Millisecond,
	})

	n.modulo = utils.NuevoModulo("Kernel", "")
	n.registrarHandlers()

	utils.InfoLog.Info("Núcleo inicializado",
		"harts", cfg.CantidadHarts,
		"marcos", cfg.TamMemoria/memoria.TamPagina,
		"procesos", cfg.CantidadProcesos,
		"semaforos", cfg.CantidadSemaforos,
		"tlb", cfg.EntradasTLB)
	return n, nil
}

func (n *Nucleo) Fisica() *memoria.Fisica {
	return n.fisica
}

func (n *Nucleo) Tabla() *proceso.Tabla {
	return n.tabla
}

func (n *Nucleo) Planificador() *planificador.Planificador {
	return n.plan
}

func (n *Nucleo) Semaforos() *sincro.Semaforos {
	return n.sems
}

func (n *Nucleo) Modulo() *utils.Modulo {
	return n.modulo
}

// IniciarServidor pone a escuchar el bus HTTP de inspección
func (n *Nucleo) IniciarServidor() {
	n.modulo.IniciarServidor(n.cfg.IPKernel, n.cfg.PuertoKernel)
}

// Lanzar crea un proceso que ejecuta el programa ruta con argumento arg en el hart dado
func (n *Nucleo) Lanzar(ruta, arg string, hart int) (*proceso.PCB, error) {
	p, err := n.tabla.AsignarProceso()
	if err != nil {
		return nil, err
	}
	if err := n.tabla.ExecEnSitio(p, ruta, arg); err != nil {
		n.tabla.Descartar(p)
		return nil, err
	}
	prog, _ := n.registro.buscar(p.Imagen.Ruta)
	n.nuevoHilo(p, prog.fn, prog.simbolo)

	harts := n.plan.Harts()
	n.plan.InsertarEnListos(harts[hart%len(harts)], p)
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Lanzado %s", p.PID, ruta), "hart", hart%len(harts))
	return p, nil
}

// Correr ejecuta los harts hasta que el sistema queda quiescente o se cancela ctx
func (n *Nucleo) Correr(ctx context.Context) error {
	err := n.plan.Correr(ctx)
	n.Apagar()
	return err
}

// Apagar libera las goroutines de usuario que quedaron esperando y detiene el bus HTTP
func (n *Nucleo) Apagar() {
	n.apagarOnce.Do(func() {
		close(n.apagado)

		est := n.fisica.Estadisticas()
		utils.InfoLog.Info("Apagando núcleo",
			"procesos", n.tabla.Conteo(),
			"marcos_libres", est.Libres,
			"marcos_usados", est.Usados,
			"marcos_compartidos", est.Compartidos)

		if n.modulo.Server != nil {
			ctx, cancelar := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelar()
			if err := n.modulo.Server.Detener(ctx); err != nil {
				utils.ErrorLog.Error("Error deteniendo servidor HTTP", "error", err)
			}
		}
	})
}

// Apagado se cierra cuando el núcleo terminó
func (n *Nucleo) Apagado() <-chan struct{} {
	return n.apagado
}

func (n *Nucleo) nuevoHilo(p *proceso.PCB, entrada Programa, simbolo string) *hilo {
	hl := &hilo{
		reanudar: make(chan *planificador.Hart),
		trap:     make(chan planificador.Motivo),
		entrada:  entrada,
		simbolo:  simbolo,
	}
	n.hilosMu.Lock()
	n.hilos[p] = hl
	n.hilosMu.Unlock()

	go n.ejecutar(p, hl)
	return hl
}

func (n *Nucleo) hiloDe(p *proceso.PCB) *hilo {
	n.hilosMu.Lock()
	defer n.hilosMu.Unlock()
	return n.hilos[p]
}

func (n *Nucleo) soltarHilo(p *proceso.PCB, hl *hilo) {
	n.hilosMu.Lock()
	defer n.hilosMu.Unlock()
	if n.hilos[p] == hl {
		delete(n.hilos, p)
	}
}

// Reanudar le da el hart al proceso y espera a que vuelva al núcleo
func (n *Nucleo) Reanudar(h *planificador.Hart, p *proceso.PCB) planificador.Motivo {
	hl := n.hiloDe(p)
	if hl == nil {
		panic(fmt.Sprintf("proceso %d sin código de usuario", p.PID))
	}
	hl.reanudar <- h
	return <-hl.trap
}

// ejecutar es el cuerpo de la goroutine de un proceso
func (n *Nucleo) ejecutar(p *proceso.PCB, hl *hilo) {
	defer n.soltarHilo(p, hl)

	var h *planificador.Hart
	select {
	case h = <-hl.reanudar:
	case <-n.apagado:
		return
	}

	entrada, simbolo := hl.entrada, hl.simbolo
	for {
		u := &Usuario{n: n, p: p, hilo: hl, hart: h, simbolo: simbolo}
		fin := n.correrPrograma(u, entrada)
		if fin.apagado {
			return
		}
		if !fin.exec {
			hl.trap <- planificador.MotivoSalida
			return
		}

		// exec: el mismo proceso sigue en el mismo hart con la imagen nueva
		prog, ok := n.registro.buscar(p.Imagen.Ruta)
		if !ok {
			u.terminar(-1)
			hl.trap <- planificador.MotivoSalida
			return
		}
		h = u.hart
		entrada, simbolo = prog.fn, prog.simbolo
		hl.simbolo = simbolo
	}
}

// correrPrograma corre prog hasta que sale, hace exec o falla
func (n *Nucleo) correrPrograma(u *Usuario, prog Programa) (fin finEjecucion) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(finEjecucion); ok {
			fin = f
			return
		}
		// un pánico del programa es una instrucción ilegal
		n.Trap(u, fmt.Errorf("instrucción ilegal: %v", r))
		u.terminar(-1)
		fin = finEjecucion{}
	}()

	prog(u)
	u.Salir(0)
	return finEjecucion{}
}

func (n *Nucleo) imprimir(texto string) {
	n.salidaMu.Lock()
	defer n.salidaMu.Unlock()
	io.WriteString(n.salida, texto)
}
