package proceso

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/LucasIBorrat/nucleo-pke/heap"
	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// Estado es el estado de planificación de un proceso
type Estado string

const (
	EstadoFree    Estado = "FREE"
	EstadoReady   Estado = "READY"
	EstadoRunning Estado = "RUNNING"
	EstadoBlocked Estado = "BLOCKED"
	EstadoZombie  Estado = "ZOMBIE"
)

// Trapframe es el contexto que se guarda al entrar al núcleo
type Trapframe struct {
	Regs          [32]uint64
	PilaKernelSP  uint64
	ManejadorTrap uint64
	EPC           uint64
	SatpKernel    uint64
}

const tamTrapframe = (32 + 4) * 8

// Guardar serializa el trapframe en su página de contexto
func (tf *Trapframe) Guardar(f *memoria.Fisica, pa uint64) error {
	buf := make([]byte, tamTrapframe)
	for i, r := range tf.Regs {
		binary.LittleEndian.PutUint64(buf[i*8:], r)
	}
	binary.LittleEndian.PutUint64(buf[32*8:], tf.PilaKernelSP)
	binary.LittleEndian.PutUint64(buf[33*8:], tf.ManejadorTrap)
	binary.LittleEndian.PutUint64(buf[34*8:], tf.EPC)
	binary.LittleEndian.PutUint64(buf[35*8:], tf.SatpKernel)
	return f.Escribir(pa, buf)
}

// Restaurar lee el trapframe desde su página de contexto
func (tf *Trapframe) Restaurar(f *memoria.Fisica, pa uint64) error {
	buf := make([]byte, tamTrapframe)
	if err := f.Leer(pa, buf); err != nil {
		return err
	}
	for i := range tf.Regs {
		tf.Regs[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	tf.PilaKernelSP = binary.LittleEndian.Uint64(buf[32*8:])
	tf.ManejadorTrap = binary.LittleEndian.Uint64(buf[33*8:])
	tf.EPC = binary.LittleEndian.Uint64(buf[34*8:])
	tf.SatpKernel = binary.LittleEndian.Uint64(buf[35*8:])
	return nil
}

// EsperaNinguna indica que el proceso no espera a ningún hijo
const (
	EsperaNinguna    = -2
	EsperaCualquiera = -1
)

// PCB es el bloque de control de un proceso. mu protege el estado y, en escritura,
// los campos que el bus de inspección lee mientras el proceso corre: Hart, Tabla,
// Heap, Imagen, Padre y CodigoSalida.
type PCB struct {
	mu     sync.Mutex
	estado Estado

	PID int
	// Hart en cuya cola de listos vive el proceso
	Hart int

	Tabla         *memoria.TablaPaginas
	PilaKernel    uint64
	marcoKernel   uint64
	Contexto      *Trapframe
	MarcoContexto uint64
	Segmentos     Segmentos
	Heap          *heap.Heap
	Imagen        *Imagen
	Archivos      *Archivos

	Padre           *PCB
	SiguienteEnCola *PCB

	CodigoSalida int
	EsperaA      int
	recolectado  bool
}

func nuevoPCB(pid int) *PCB {
	return &PCB{PID: pid, estado: EstadoFree, EsperaA: EsperaNinguna}
}

func (p *PCB) Estado() Estado {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estado
}

// CambiarEstado registra la transición con el formato de log obligatorio
func (p *PCB) CambiarEstado(nuevo Estado) {
	p.mu.Lock()
	anterior := p.estado
	p.estado = nuevo
	p.mu.Unlock()

	if anterior == nuevo {
		return
	}
	utils.InfoLog.Info(fmt.Sprintf("(%d) - Pasa del estado %s al estado %s", p.PID, anterior, nuevo))
}

// actualizar aplica fn con el PCB bloqueado
func (p *PCB) actualizar(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// fijarEspacio reemplaza la tabla de páginas y el heap del proceso
func (p *PCB) fijarEspacio(tabla *memoria.TablaPaginas, h *heap.Heap) {
	p.actualizar(func() { p.Tabla, p.Heap = tabla, h })
}

// TablaActual devuelve la tabla de páginas vigente; es la lectura segura desde fuera del proceso
func (p *PCB) TablaActual() *memoria.TablaPaginas {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Tabla
}

// FijarHart asigna la cola de listos donde vive el proceso
func (p *PCB) FijarHart(id int) {
	p.actualizar(func() { p.Hart = id })
}

func (p *PCB) HartAsignado() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Hart
}

// GuardarContexto vuelca el trapframe a la página CONTEXTO
func (p *PCB) GuardarContexto(f *memoria.Fisica) error {
	if p.Contexto == nil || p.MarcoContexto == 0 {
		return nil
	}
	return p.Contexto.Guardar(f, p.MarcoContexto)
}

func (p *PCB) String() string {
	return fmt.Sprintf("PCB{PID: %d, Estado: %s, Hart: %d}", p.PID, p.Estado(), p.HartAsignado())
}

// ResumenPCB es la vista serializable de un proceso
type ResumenPCB struct {
	PID       int        `json:"pid"`
	Estado    Estado     `json:"estado"`
	Padre     int        `json:"padre"`
	Hart      int        `json:"hart"`
	Programa  string     `json:"programa,omitempty"`
	Codigo    int        `json:"codigo_salida"`
	Segmentos []Segmento `json:"segmentos,omitempty"`
	Frontera  uint64     `json:"frontera_heap,omitempty"`
}

// Resumen toma una foto del proceso; puede llamarse mientras el proceso corre
func (p *PCB) Resumen() ResumenPCB {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := ResumenPCB{PID: p.PID, Estado: p.estado, Padre: -1, Hart: p.Hart, Codigo: p.CodigoSalida}
	if p.Padre != nil {
		r.Padre = p.Padre.PID
	}
	if p.Imagen != nil {
		r.Programa = p.Imagen.Ruta
	}
	if r.Estado != EstadoFree {
		r.Segmentos = p.Segmentos.Todos()
		if p.Heap != nil {
			r.Frontera = p.Heap.Frontera()
		}
	}
	return r
}
