package proceso

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/LucasIBorrat/nucleo-pke/heap"
	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

var (
	ErrSinProcesos        = errors.New("no hay PCBs libres")
	ErrProcesoInexistente = errors.New("proceso inexistente")
	ErrNoEsHijo           = errors.New("el proceso no tiene ese hijo")
	ErrArgumentoLargo     = errors.New("argumento de exec demasiado largo")
)

// Tabla es el pool fijo de PCBs
type Tabla struct {
	mu       sync.Mutex
	esperaMu sync.Mutex

	fisica     *memoria.Fisica
	procesos   []*PCB
	vectorTrap uint64
	cargador   Cargador
	sfs        SistemaArchivos
}

// NuevaTabla crea el pool y la página del vector de traps que comparten todos los procesos
func NuevaTabla(f *memoria.Fisica, cantidad int, cargador Cargador, sfs SistemaArchivos) (*Tabla, error) {
	vector, err := f.AsignarMarco()
	if err != nil {
		return nil, fmt.Errorf("vector de traps: %w", err)
	}
	// Contenido simbólico del trampolín
	if err := f.Escribir(vector, []byte("smode_trap_vector")); err != nil {
		utils.ErrorLog.Error("No se pudo escribir el vector de traps", "pa", fmt.Sprintf("%#x", vector), "error", err)
	}

	t := &Tabla{
		fisica:     f,
		procesos:   make([]*PCB, cantidad),
		vectorTrap: vector,
		cargador:   cargador,
		sfs:        sfs,
	}
	for i := range t.procesos {
		t.procesos[i] = nuevoPCB(i)
	}

	utils.InfoLog.Info("Tabla de procesos inicializada", "cantidad", cantidad, "vector_trap", fmt.Sprintf("%#x", vector))
	return t, nil
}

func (t *Tabla) Fisica() *memoria.Fisica {
	return t.fisica
}

func (t *Tabla) VectorTrap() uint64 {
	return t.vectorTrap
}

// AsignarProceso toma el primer PCB libre y le arma un espacio de direcciones con los
// segmentos obligatorios. El proceso queda READY pero fuera de toda cola.
func (t *Tabla) AsignarProceso() (*PCB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var p *PCB
	for _, candidato := range t.procesos {
		if candidato.Estado() == EstadoFree {
			p = candidato
			break
		}
	}
	if p == nil {
		utils.ErrorLog.Error("No hay PCBs libres", "cantidad", len(t.procesos))
		return nil, ErrSinProcesos
	}

	marcoKernel, err := t.fisica.AsignarMarco()
	if err != nil {
		return nil, fmt.Errorf("pila de kernel: %w", err)
	}
	p.marcoKernel = marcoKernel
	p.PilaKernel = marcoKernel + memoria.TamPagina

	if err := t.construirEspacio(p); err != nil {
		t.fisica.LiberarMarco(marcoKernel)
		p.marcoKernel, p.PilaKernel = 0, 0
		return nil, err
	}

	t.esperaMu.Lock()
	p.actualizar(func() {
		p.Padre = nil
		p.CodigoSalida = 0
		p.Imagen = nil
	})
	p.EsperaA = EsperaNinguna
	p.recolectado = false
	t.esperaMu.Unlock()

	p.SiguienteEnCola = nil
	p.Archivos = NuevosArchivos(t.sfs)

	utils.InfoLog.Info(fmt.Sprintf("(%d) - Se crea el proceso - Estado: %s", p.PID, EstadoReady))
	p.CambiarEstado(EstadoReady)
	return p, nil
}

// construirEspacio arma tabla de páginas, CONTEXTO, VECTOR_TRAP, PILA y un heap vacío
func (t *Tabla) construirEspacio(p *PCB) error {
	tabla, err := memoria.NuevaTablaPaginas(t.fisica)
	if err != nil {
		return err
	}
	p.fijarEspacio(tabla, nil)
	p.Segmentos.Limpiar()

	falla := func(err error) error {
		p.fijarEspacio(nil, nil)
		p.Segmentos.Limpiar()
		tabla.Destruir()
		return err
	}

	// El trapframe se mapea en su propia dirección física, sin acceso de usuario
	contexto, err := t.fisica.AsignarMarco()
	if err != nil {
		return falla(err)
	}
	if err := tabla.Mapear(contexto, memoria.TamPagina, contexto, memoria.PTE_R|memoria.PTE_W); err != nil {
		t.fisica.LiberarMarco(contexto)
		return falla(err)
	}
	p.MarcoContexto = contexto

	t.fisica.Retener(t.vectorTrap)
	if err := tabla.Mapear(t.vectorTrap, memoria.TamPagina, t.vectorTrap, memoria.PTE_R|memoria.PTE_X); err != nil {
		t.fisica.LiberarMarco(t.vectorTrap)
		return falla(err)
	}

	if _, err := mapearNuevo(t.fisica, tabla, BasePilaUsuario, memoria.PTE_R|memoria.PTE_W|memoria.PTE_U); err != nil {
		return falla(err)
	}

	for _, seg := range []Segmento{
		{Base: BasePilaUsuario, Paginas: 1, Tipo: SegmentoPila},
		{Base: contexto, Paginas: 1, Tipo: SegmentoContexto},
		{Base: t.vectorTrap, Paginas: 1, Tipo: SegmentoVectorTrap},
		{Base: HeapBase, Paginas: 0, Tipo: SegmentoHeap},
	} {
		if err := p.Segmentos.Agregar(seg); err != nil {
			return falla(err)
		}
	}

	p.fijarEspacio(tabla, heap.Nuevo(&espacioHeap{p: p, fisica: t.fisica}, HeapBase))
	p.Contexto = &Trapframe{
		PilaKernelSP:  p.PilaKernel,
		ManejadorTrap: t.vectorTrap,
		SatpKernel:    SatpNucleo,
	}
	p.Contexto.Regs[RegSP] = TopePilaUsuario
	return nil
}

// Descartar devuelve al pool un PCB que no llegó a ejecutarse
func (t *Tabla) Descartar(p *PCB) {
	tabla := p.Tabla
	p.fijarEspacio(nil, nil)
	if tabla != nil {
		tabla.Destruir()
	}
	if p.marcoKernel != 0 {
		t.fisica.LiberarMarco(p.marcoKernel)
		p.marcoKernel, p.PilaKernel = 0, 0
	}
	if p.Archivos != nil {
		for fd := 0; fd < MaxArchivos; fd++ {
			p.Archivos.Cerrar(fd)
		}
	}
	p.Segmentos.Limpiar()
	p.CambiarEstado(EstadoFree)
}

// Fork clona padre en un PCB nuevo aplicando la política de cada tipo de segmento.
// El hijo queda READY y el llamador lo inserta en una cola de listos.
func (t *Tabla) Fork(padre *PCB) (*PCB, error) {
	hijo, err := t.AsignarProceso()
	if err != nil {
		return nil, err
	}
	if err := t.clonarEspacio(padre, hijo); err != nil {
		utils.ErrorLog.Error("Fork fallido", "pid", padre.PID, "error", err)
		t.Descartar(hijo)
		return nil, err
	}

	hijo.Archivos = padre.Archivos.Clonar()
	hart := padre.HartAsignado()

	t.esperaMu.Lock()
	hijo.actualizar(func() {
		hijo.Imagen = padre.Imagen
		hijo.Hart = hart
		hijo.Padre = padre
	})
	t.esperaMu.Unlock()

	utils.InfoLog.Info("Fork realizado", "pid_padre", padre.PID, "pid_hijo", hijo.PID)
	return hijo, nil
}

func (t *Tabla) clonarEspacio(padre, hijo *PCB) error {
	for _, seg := range padre.Segmentos.Todos() {
		switch seg.Tipo {
		case SegmentoContexto:
			ctx := *padre.Contexto
			ctx.Regs[RegA0] = 0
			ctx.PilaKernelSP = hijo.PilaKernel
			*hijo.Contexto = ctx

		case SegmentoPila:
			origen, err := padre.Tabla.Traducir(seg.Base)
			if err != nil {
				return fmt.Errorf("pila del padre: %w", err)
			}
			destino, err := hijo.Tabla.Traducir(seg.Base)
			if err != nil {
				return fmt.Errorf("pila del hijo: %w", err)
			}
			t.fisica.CopiarMarco(destino, origen)

		case SegmentoCodigo:
			if err := hijo.Segmentos.Agregar(seg); err != nil {
				return err
			}
			for i := 0; i < seg.Paginas; i++ {
				va := seg.Base + uint64(i)*memoria.TamPagina
				pte, err := padre.Tabla.Buscar(va)
				if err != nil {
					return fmt.Errorf("código en %#x: %w", va, err)
				}
				t.fisica.Retener(pte.Fisica())
				if err := hijo.Tabla.Mapear(va, memoria.TamPagina, pte.Fisica(), memoria.PTE_R|memoria.PTE_X|memoria.PTE_U); err != nil {
					t.fisica.LiberarMarco(pte.Fisica())
					return err
				}
			}
			utils.InfoLog.Debug("Código compartido", "pid_hijo", hijo.PID, "base", fmt.Sprintf("%#x", seg.Base), "paginas", seg.Paginas)

		case SegmentoDatos:
			if err := hijo.Segmentos.Agregar(seg); err != nil {
				return err
			}
			for i := 0; i < seg.Paginas; i++ {
				va := seg.Base + uint64(i)*memoria.TamPagina
				origen, err := padre.Tabla.Traducir(va)
				if err != nil {
					return fmt.Errorf("datos en %#x: %w", va, err)
				}
				destino, err := mapearNuevo(t.fisica, hijo.Tabla, va, memoria.PTE_R|memoria.PTE_W|memoria.PTE_U)
				if err != nil {
					return err
				}
				t.fisica.CopiarMarco(destino, origen)
			}

		case SegmentoHeap:
			err := padre.Heap.RecorrerPaginas(func(va, pa uint64) error {
				if _, err := padre.Tabla.MarcarCOW(va); err != nil {
					return err
				}
				return hijo.Tabla.MapearCOW(va, pa)
			})
			if err != nil {
				return fmt.Errorf("heap: %w", err)
			}
			hijo.fijarEspacio(hijo.Tabla, padre.Heap.Clonar(&espacioHeap{p: hijo, fisica: t.fisica}))
			if err := hijo.Segmentos.Crecer(SegmentoHeap, seg.Paginas); err != nil {
				return err
			}
			utils.InfoLog.Debug("Heap mapeado COW", "pid_hijo", hijo.PID, "paginas", seg.Paginas)

		case SegmentoVectorTrap:
			// ya mapeado por AsignarProceso
		}
	}
	return nil
}

// ExecEnSitio reemplaza el espacio de direcciones de p por el del programa en ruta.
// Se conservan el PID, el slot, la pila de kernel y los archivos abiertos.
func (t *Tabla) ExecEnSitio(p *PCB, ruta string, arg string) error {
	absoluta := ruta
	if p.Archivos != nil {
		absoluta = p.Archivos.Resolver(ruta)
	}
	if t.cargador == nil || !t.cargador.Existe(absoluta) {
		return fmt.Errorf("exec %s: %w", absoluta, ErrES)
	}
	if len(arg)+1+16 > memoria.TamPagina/2 {
		return fmt.Errorf("exec %s: %w", absoluta, ErrArgumentoLargo)
	}

	vieja := p.Tabla
	p.fijarEspacio(nil, nil)
	vieja.Destruir()
	if err := t.construirEspacio(p); err != nil {
		return fmt.Errorf("exec %s: %w", absoluta, err)
	}

	img, err := t.cargador.Cargar(&destinoCarga{p: p, fisica: t.fisica}, absoluta)
	if err != nil {
		return fmt.Errorf("exec %s: %w", absoluta, err)
	}
	p.actualizar(func() { p.Imagen = img })

	// argv[0] = arg, argv[1] = NULL
	sp := TopePilaUsuario
	texto := append([]byte(arg), 0)
	sp -= uint64(len(texto))
	sp &^= 0xF
	if err := t.escribirUsuario(p, sp, texto); err != nil {
		return err
	}
	argv := make([]byte, 16)
	binary.LittleEndian.PutUint64(argv[0:], sp)
	sp -= 16
	if err := t.escribirUsuario(p, sp, argv); err != nil {
		return err
	}

	p.Contexto.Regs[RegSP] = sp
	p.Contexto.Regs[RegA0] = 1
	p.Contexto.Regs[RegA1] = sp
	p.Contexto.EPC = img.Entrada

	utils.InfoLog.Info("Exec realizado", "pid", p.PID, "programa", absoluta, "entrada", fmt.Sprintf("%#x", img.Entrada))
	return nil
}

func (t *Tabla) escribirUsuario(p *PCB, va uint64, datos []byte) error {
	pa, err := p.Tabla.Traducir(va)
	if err != nil {
		return err
	}
	return t.fisica.Escribir(pa, datos)
}

// Terminar marca al proceso como ZOMBIE sin recuperar su memoria. Si el padre estaba
// bloqueado esperándolo lo devuelve para que el llamador lo pase a READY.
func (t *Tabla) Terminar(p *PCB, codigo int) *PCB {
	t.esperaMu.Lock()
	defer t.esperaMu.Unlock()

	p.actualizar(func() { p.CodigoSalida = codigo })
	p.CambiarEstado(EstadoZombie)
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Finaliza el proceso", p.PID), "codigo", codigo)

	padre := p.Padre
	if padre == nil {
		return nil
	}
	if padre.Estado() == EstadoBlocked && (padre.EsperaA == p.PID || padre.EsperaA == EsperaCualquiera) {
		padre.EsperaA = EsperaNinguna
		return padre
	}
	return nil
}

// Esperar recolecta un hijo ZOMBIE (pid o cualquiera con EsperaCualquiera).
// Si todavía no terminó, deja al proceso BLOCKED y devuelve listo=false.
func (t *Tabla) Esperar(p *PCB, pid int) (hijo int, codigo int, listo bool, err error) {
	t.esperaMu.Lock()
	defer t.esperaMu.Unlock()

	tieneHijos := false
	for _, c := range t.procesos {
		if c.Padre != p || c.recolectado || c.Estado() == EstadoFree {
			continue
		}
		if pid != EsperaCualquiera && c.PID != pid {
			continue
		}
		tieneHijos = true
		if c.Estado() == EstadoZombie {
			c.recolectado = true
			return c.PID, c.CodigoSalida, true, nil
		}
	}
	if !tieneHijos {
		return -1, 0, false, fmt.Errorf("esperar %d: %w", pid, ErrNoEsHijo)
	}

	p.EsperaA = pid
	p.CambiarEstado(EstadoBlocked)
	return -1, 0, false, nil
}

// Buscar devuelve el PCB de un pid en uso
func (t *Tabla) Buscar(pid int) (*PCB, error) {
	if pid < 0 || pid >= len(t.procesos) || t.procesos[pid].Estado() == EstadoFree {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrProcesoInexistente)
	}
	return t.procesos[pid], nil
}

// Todos devuelve el pool completo (incluye los FREE)
func (t *Tabla) Todos() []*PCB {
	return append([]*PCB(nil), t.procesos...)
}

// Quiescente indica si todos los PCBs están FREE o ZOMBIE
func (t *Tabla) Quiescente() bool {
	for _, p := range t.procesos {
		if e := p.Estado(); e != EstadoFree && e != EstadoZombie {
			return false
		}
	}
	return true
}

// Conteo cuenta los PCBs por estado
func (t *Tabla) Conteo() map[Estado]int {
	res := make(map[Estado]int)
	for _, p := range t.procesos {
		res[p.Estado()]++
	}
	return res
}
