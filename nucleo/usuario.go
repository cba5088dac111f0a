package nucleo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/planificador"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// Usuario es la vista que tiene un programa de sí mismo: su memoria virtual y las
// llamadas al sistema. No es seguro usarlo desde otra goroutine.
type Usuario struct {
	n       *Nucleo
	p       *proceso.PCB
	hilo    *hilo
	hart    *planificador.Hart
	simbolo string
}

func (u *Usuario) PID() int {
	return u.p.PID
}

// Hart devuelve el id del hart en el que corre el proceso
func (u *Usuario) Hart() int {
	return u.hart.ID
}

// Registro devuelve un registro del trapframe
func (u *Usuario) Registro(i int) uint64 {
	return u.p.Contexto.Regs[i]
}

// devolver entrega el hart al planificador y bloquea hasta que lo vuelvan a despachar
func (u *Usuario) devolver(m planificador.Motivo) {
	if err := u.p.GuardarContexto(u.n.fisica); err != nil {
		utils.ErrorLog.Error("No se pudo guardar el contexto", "pid", u.p.PID, "error", err)
	}
	u.hilo.trap <- m

	select {
	case h := <-u.hilo.reanudar:
		u.hart = h
	case <-u.n.apagado:
		panic(finEjecucion{apagado: true})
	}
}

// entrar marca el paso por el núcleo; con PREEMPTIVO el timer vencido desaloja al proceso
func (u *Usuario) entrar() {
	if u.n.cfg.Preemptivo && u.hart.TimerVencido() {
		utils.InfoLog.Info(fmt.Sprintf("## (%d) - Desalojado por timer", u.p.PID), "hart", u.hart.ID)
		u.devolver(planificador.MotivoCeder)
	}
}

// terminar deja al proceso ZOMBIE y despierta al padre si lo esperaba
func (u *Usuario) terminar(codigo int) {
	if padre := u.n.tabla.Terminar(u.p, codigo); padre != nil {
		u.n.plan.Despertar(padre)
	}
	u.n.imprimir(fmt.Sprintf("User exit with code:%d.\n", codigo))
}

// ---- memoria de usuario ----

// acceder copia entre buf y la memoria virtual del proceso, resolviendo los fallos COW.
// Los demás fallos se devuelven como *memoria.FalloPagina.
func (u *Usuario) acceder(va uint64, buf []byte, escritura bool) error {
	acceso := memoria.Lectura
	if escritura {
		acceso = memoria.Escritura
	}

	for len(buf) > 0 {
		pa, err := u.hart.MMU.Traducir(va, acceso)
		var fallo *memoria.FalloPagina
		if errors.As(err, &fallo) && fallo.EsCOW() {
			if _, err := u.p.Tabla.ResolverFalloEscritura(va); err != nil {
				return &memoria.FalloPagina{VA: va, Acceso: acceso, Causa: err}
			}
			u.hart.MMU.Invalidar(va)
			continue
		}
		if err != nil {
			return err
		}

		n := min(len(buf), int(memoria.TamPagina-(va&(memoria.TamPagina-1))))
		if escritura {
			err = u.n.fisica.Escribir(pa, buf[:n])
		} else {
			err = u.n.fisica.Leer(pa, buf[:n])
		}
		if err != nil {
			return &memoria.FalloPagina{VA: va, Acceso: acceso, Causa: err}
		}
		buf = buf[n:]
		va += uint64(n)
	}
	return nil
}

// fallo reporta una excepción de memoria y termina el proceso
func (u *Usuario) fallo(err error) {
	u.n.Trap(u, err)
	u.terminar(-1)
	panic(finEjecucion{})
}

// Leer es una carga desde memoria virtual; un fallo termina el proceso
func (u *Usuario) Leer(va uint64, buf []byte) {
	if err := u.acceder(va, buf, false); err != nil {
		u.fallo(err)
	}
}

// Escribir es un almacenamiento en memoria virtual; un fallo termina el proceso
func (u *Usuario) Escribir(va uint64, buf []byte) {
	if err := u.acceder(va, buf, true); err != nil {
		u.fallo(err)
	}
}

func (u *Usuario) LeerEntero(va uint64) int64 {
	var b [8]byte
	u.Leer(va, b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func (u *Usuario) EscribirEntero(va uint64, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	u.Escribir(va, b[:])
}

// leerCadena lee un texto terminado en NUL de hasta max bytes
func (u *Usuario) leerCadena(va uint64, max int) (string, error) {
	var res []byte
	var b [1]byte
	for len(res) < max {
		if err := u.acceder(va, b[:], false); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(res), nil
		}
		res = append(res, b[0])
		va++
	}
	return string(res), nil
}

// Arg devuelve argv[0] tal como quedó en la pila de usuario tras el exec
func (u *Usuario) Arg() string {
	var argv [8]byte
	if err := u.acceder(u.p.Contexto.Regs[proceso.RegA1], argv[:], false); err != nil {
		return ""
	}
	arg, err := u.leerCadena(binary.LittleEndian.Uint64(argv[:]), memoria.TamPagina/2)
	if err != nil {
		return ""
	}
	return arg
}

// DatosIniciales devuelve la dirección del segmento de datos de la imagen, o 0
func (u *Usuario) DatosIniciales() uint64 {
	seg, ok := u.p.Segmentos.DeTipo(proceso.SegmentoDatos)
	if !ok {
		return 0
	}
	return seg.Base
}

// ---- llamadas al sistema ----

// Imprimir escribe en la consola del núcleo
func (u *Usuario) Imprimir(formato string, args ...any) int {
	u.entrar()
	texto := fmt.Sprintf(formato, args...)
	u.n.imprimir(texto)
	return len(texto)
}

// Salir termina el proceso; no vuelve
func (u *Usuario) Salir(codigo int) {
	u.terminar(codigo)
	panic(finEjecucion{})
}

// Ceder devuelve el hart y vuelve a la cola de listos
func (u *Usuario) Ceder() {
	u.devolver(planificador.MotivoCeder)
}

// Fork crea un hijo que ejecuta hijo sobre una copia del espacio de direcciones.
// Devuelve el pid del hijo, o -1.
func (u *Usuario) Fork(hijo Programa) int {
	u.entrar()
	h, err := u.n.tabla.Fork(u.p)
	if err != nil {
		utils.ErrorLog.Error("fork", "pid", u.p.PID, "error", err)
		return -1
	}
	// el heap del padre ahora es COW
	u.hart.MMU.TLB().Vaciar()

	u.n.nuevoHilo(h, hijo, simboloDe(hijo))
	u.n.plan.InsertarEnListos(u.hart, h)
	utils.InfoLog.Info(fmt.Sprintf("## (%d) - Fork: nuevo hijo %d", u.p.PID, h.PID))
	return h.PID
}

// Malloc reserva n bytes en el heap; 0 si no hay memoria
func (u *Usuario) Malloc(n uint64) uint64 {
	u.entrar()
	va, err := u.p.Heap.Reservar(n)
	if err != nil {
		utils.ErrorLog.Error("malloc", "pid", u.p.PID, "bytes", n, "error", err)
		return 0
	}
	return va
}

func (u *Usuario) Free(va uint64) int {
	u.entrar()
	if err := u.p.Heap.Liberar(va); err != nil {
		utils.ErrorLog.Error("free", "pid", u.p.PID, "va", fmt.Sprintf("%#x", va), "error", err)
		return -1
	}
	return 0
}

// Fisica devuelve la dirección física de va (printpa); 0 si no está mapeada
func (u *Usuario) Fisica(va uint64) uint64 {
	u.entrar()
	pa, err := u.p.Tabla.Traducir(va)
	if err != nil {
		return 0
	}
	return pa
}

func (u *Usuario) SemNuevo(valor int) int {
	u.entrar()
	id, err := u.n.sems.Nuevo(valor)
	if err != nil {
		return -1
	}
	return id
}

// SemP decrementa el semáforo y bloquea si hace falta
func (u *Usuario) SemP(id int) int {
	u.entrar()
	bloqueado, err := u.n.sems.P(id, u.p)
	if err != nil {
		utils.ErrorLog.Error("sem_P", "pid", u.p.PID, "error", err)
		return -1
	}
	if bloqueado {
		u.devolver(planificador.MotivoBloqueo)
	}
	return 0
}

func (u *Usuario) SemV(id int) int {
	u.entrar()
	p, err := u.n.sems.V(id)
	if err != nil {
		utils.ErrorLog.Error("sem_V", "pid", u.p.PID, "error", err)
		return -1
	}
	if p != nil {
		u.n.plan.Despertar(p)
	}
	return 0
}

// Esperar espera a un hijo (proceso.EsperaCualquiera para cualquiera).
// Devuelve su pid y su código de salida; pid -1 si no hay hijos que esperar.
func (u *Usuario) Esperar(pid int) (int, int) {
	u.entrar()
	for {
		hijo, codigo, listo, err := u.n.tabla.Esperar(u.p, pid)
		if err != nil {
			return -1, 0
		}
		if listo {
			return hijo, codigo
		}
		u.devolver(planificador.MotivoBloqueo)
	}
}

// Exec reemplaza la imagen del proceso. Solo vuelve, con -1, si el espacio viejo sigue intacto.
func (u *Usuario) Exec(ruta, arg string) int {
	u.entrar()
	anterior := u.p.Tabla
	err := u.n.tabla.ExecEnSitio(u.p, ruta, arg)
	if err != nil && u.p.Tabla == anterior {
		utils.ErrorLog.Error("exec", "pid", u.p.PID, "ruta", ruta, "error", err)
		return -1
	}
	u.hart.MMU.Activar(u.p.Tabla)
	if err != nil {
		u.n.Trap(u, err)
		u.terminar(-1)
		panic(finEjecucion{})
	}
	panic(finEjecucion{exec: true})
}
