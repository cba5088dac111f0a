package nucleo

import (
	"fmt"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// Números de llamada al sistema
const (
	SysBase         = 64
	SysImprimir     = SysBase + 0
	SysSalir        = SysBase + 1
	SysMalloc       = SysBase + 2
	SysFree         = SysBase + 3
	SysFork         = SysBase + 4
	SysCeder        = SysBase + 5
	SysBacktrace    = SysBase + 6
	SysSemNuevo     = SysBase + 7
	SysSemP         = SysBase + 8
	SysSemV         = SysBase + 9
	SysEsperar      = SysBase + 10
	SysExec         = SysBase + 11
	SysFisica       = SysBase + 12
	SysAbrir        = SysBase + 13
	SysLeerArchivo  = SysBase + 14
	SysEscribirArch = SysBase + 15
	SysMover        = SysBase + 16
	SysCerrar       = SysBase + 17
	SysCrearDir     = SysBase + 18
	SysDesenlazar   = SysBase + 19
	SysCambiarDir   = SysBase + 20
	maxRutaLlamada  = 256
	maxTextoLlamada = memoria.TamPagina
)

// Llamada despacha una llamada al sistema por número, con los argumentos en a1..a3
// como en los registros. Los textos se pasan como direcciones virtuales terminadas en NUL.
// Fork por número no está disponible: el hijo necesita su código de continuación.
func (u *Usuario) Llamada(num int, a1, a2, a3 uint64) int64 {
	cadena := func(va uint64, max int) (string, bool) {
		s, err := u.leerCadena(va, max)
		if err != nil {
			utils.ErrorLog.Error("Argumento de llamada inválido", "pid", u.p.PID, "llamada", num, "va", fmt.Sprintf("%#x", va))
			return "", false
		}
		return s, true
	}

	switch num {
	case SysImprimir:
		buf := make([]byte, min(a2, maxTextoLlamada))
		if err := u.acceder(a1, buf, false); err != nil {
			return -1
		}
		return int64(u.Imprimir("%s", buf))
	case SysSalir:
		u.Salir(int(int64(a1)))
	case SysMalloc:
		return int64(u.Malloc(a1))
	case SysFree:
		return int64(u.Free(a1))
	case SysFork:
		utils.ErrorLog.Error("Fork por número no disponible: el hijo necesita su código de continuación", "pid", u.p.PID)
		return -1
	case SysCeder:
		u.Ceder()
		return 0
	case SysBacktrace:
		return int64(u.Backtrace(int(a1)))
	case SysSemNuevo:
		return int64(u.SemNuevo(int(int64(a1))))
	case SysSemP:
		return int64(u.SemP(int(a1)))
	case SysSemV:
		return int64(u.SemV(int(a1)))
	case SysEsperar:
		pid, _ := u.Esperar(int(int64(a1)))
		return int64(pid)
	case SysExec:
		ruta, ok := cadena(a1, maxRutaLlamada)
		if !ok {
			return -1
		}
		arg, ok := cadena(a2, memoria.TamPagina/2)
		if !ok {
			return -1
		}
		return int64(u.Exec(ruta, arg))
	case SysFisica:
		return int64(u.Fisica(a1))
	case SysAbrir:
		ruta, ok := cadena(a1, maxRutaLlamada)
		if !ok {
			return -1
		}
		return int64(u.Abrir(ruta, int(a2)))
	case SysLeerArchivo:
		return int64(u.LeerArchivo(int(a1), a2, int(a3)))
	case SysEscribirArch:
		return int64(u.EscribirArchivo(int(a1), a2, int(a3)))
	case SysMover:
		return int64(u.Mover(int(a1), int64(a2), int(a3)))
	case SysCerrar:
		return int64(u.Cerrar(int(a1)))
	case SysCrearDir, SysDesenlazar, SysCambiarDir:
		ruta, ok := cadena(a1, maxRutaLlamada)
		if !ok {
			return -1
		}
		switch num {
		case SysCrearDir:
			return int64(u.CrearDir(ruta))
		case SysDesenlazar:
			return int64(u.Desenlazar(ruta))
		default:
			return int64(u.CambiarDir(ruta))
		}
	}

	utils.ErrorLog.Error("Llamada al sistema desconocida", "pid", u.p.PID, "llamada", num)
	return -1
}
