package nucleo

import (
	"github.com/LucasIBorrat/nucleo-pke/proceso"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// Las llamadas de archivos devuelven -1 ante cualquier error del pedido, sin
// terminar al proceso.

func (u *Usuario) errorArchivo(op string, err error) int {
	utils.ErrorLog.Error(op, "pid", u.p.PID, "error", err)
	return -1
}

func (u *Usuario) Abrir(ruta string, modo int) int {
	u.entrar()
	fd, err := u.p.Archivos.Abrir(ruta, modo)
	if err != nil {
		return u.errorArchivo("open", err)
	}
	return fd
}

// LeerArchivo lee hasta n bytes del descriptor hacia la dirección virtual va
func (u *Usuario) LeerArchivo(fd int, va uint64, n int) int {
	u.entrar()
	buf := make([]byte, n)
	leidos, err := u.p.Archivos.Leer(fd, buf)
	if err != nil {
		return u.errorArchivo("read", err)
	}
	if err := u.acceder(va, buf[:leidos], true); err != nil {
		return u.errorArchivo("read", err)
	}
	return leidos
}

// EscribirArchivo escribe n bytes desde la dirección virtual va
func (u *Usuario) EscribirArchivo(fd int, va uint64, n int) int {
	u.entrar()
	buf := make([]byte, n)
	if err := u.acceder(va, buf, false); err != nil {
		return u.errorArchivo("write", err)
	}
	escritos, err := u.p.Archivos.Escribir(fd, buf)
	if err != nil {
		return u.errorArchivo("write", err)
	}
	return escritos
}

func (u *Usuario) Mover(fd int, offset int64, whence int) int {
	u.entrar()
	pos, err := u.p.Archivos.Mover(fd, offset, whence)
	if err != nil {
		return u.errorArchivo("lseek", err)
	}
	return int(pos)
}

func (u *Usuario) Cerrar(fd int) int {
	u.entrar()
	if err := u.p.Archivos.Cerrar(fd); err != nil {
		return u.errorArchivo("close", err)
	}
	return 0
}

func (u *Usuario) AbrirDir(ruta string) int {
	u.entrar()
	fd, err := u.p.Archivos.AbrirDir(ruta)
	if err != nil {
		return u.errorArchivo("opendir", err)
	}
	return fd
}

// LeerDir devuelve la próxima entrada y 0, o -1 al terminar
func (u *Usuario) LeerDir(fd int) (proceso.EntradaDirectorio, int) {
	u.entrar()
	e, err := u.p.Archivos.LeerDir(fd)
	if err != nil {
		return proceso.EntradaDirectorio{}, -1
	}
	return e, 0
}

func (u *Usuario) CrearDir(ruta string) int {
	u.entrar()
	if err := u.p.Archivos.CrearDir(ruta); err != nil {
		return u.errorArchivo("mkdir", err)
	}
	return 0
}

func (u *Usuario) Enlazar(existente, nuevo string) int {
	u.entrar()
	if err := u.p.Archivos.Enlazar(existente, nuevo); err != nil {
		return u.errorArchivo("link", err)
	}
	return 0
}

func (u *Usuario) Desenlazar(ruta string) int {
	u.entrar()
	if err := u.p.Archivos.Desenlazar(ruta); err != nil {
		return u.errorArchivo("unlink", err)
	}
	return 0
}

func (u *Usuario) CambiarDir(ruta string) int {
	u.entrar()
	if err := u.p.Archivos.CambiarDir(ruta); err != nil {
		return u.errorArchivo("cd", err)
	}
	return 0
}

func (u *Usuario) DirActual() string {
	u.entrar()
	return u.p.Archivos.DirActual()
}
