// Package programas tiene los programas de usuario de demostración del núcleo.
package programas

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/LucasIBorrat/nucleo-pke/nucleo"
	"github.com/LucasIBorrat/nucleo-pke/proceso"
)

// Registrar publica todos los programas en /bin
func Registrar(r *nucleo.Registro) {
	r.Registrar("/bin/app_alloc", Alloc, nil)
	r.Registrar("/bin/app_cow", COW, nil)
	r.Registrar("/bin/app_sem", ProductorConsumidor, nil)
	r.Registrar("/bin/app_shell", Shell, []byte("/shellrc"))
	r.Registrar("/bin/app_ls", LS, nil)
	r.Registrar("/bin/app_backtrace", Backtrace, nil)
	r.Registrar("/bin/app_errorline", ErrorLinea, nil)
	r.Registrar("/bin/app_hola", Hola, nil)
}

// Hola imprime su argumento
func Hola(u *nucleo.Usuario) {
	u.Imprimir("Hola %s, soy el proceso %d en el hart %d\n", u.Arg(), u.PID(), u.Hart())
}

// Alloc reserva bloques, los escribe, los libera y muestra que se reutilizan
func Alloc(u *nucleo.Usuario) {
	const cantidad = 5
	var bloques [cantidad]uint64
	for i := range bloques {
		bloques[i] = u.Malloc(50)
		u.EscribirEntero(bloques[i], int64(i))
		u.Imprimir("=== user alloc @ vaddr %#x\n", bloques[i])
	}
	for _, va := range bloques {
		u.Imprimir("=== user: %d\n", u.LeerEntero(va))
		u.Free(va)
	}
	otra := u.Malloc(40)
	u.Imprimir("=== reutilizado @ vaddr %#x\n", otra)
	u.Salir(0)
}

// COW muestra las direcciones físicas del heap compartido antes y después de escribir
func COW(u *nucleo.Usuario) {
	dato := u.Malloc(20)
	dato1 := u.Malloc(20)
	u.Imprimir("the physical address of parent process heap is: \n")
	u.Imprimir("%#x\n%#x\n", u.Fisica(dato), u.Fisica(dato1))

	pid := u.Fork(func(u *nucleo.Usuario) {
		u.Imprimir("the physical address of child process heap before copy on write is: \n")
		u.Imprimir("%#x\n%#x\n", u.Fisica(dato), u.Fisica(dato1))
		u.EscribirEntero(dato, 0)
		u.EscribirEntero(dato1, 0)
		u.Imprimir("the physical address of child process heap after copy on write is: \n")
		u.Imprimir("%#x\n%#x\n", u.Fisica(dato), u.Fisica(dato1))
	})
	if pid >= 0 {
		u.Esperar(pid)
	}
	u.Salir(0)
}

// ProductorConsumidor alterna padre e hijos con tres semáforos
func ProductorConsumidor(u *nucleo.Usuario) {
	const rondas = 5
	mPadre := u.SemNuevo(1)
	mHijos := [2]int{u.SemNuevo(0), u.SemNuevo(0)}

	for i, sem := range mHijos {
		hijo, sem := i, sem
		u.Fork(func(u *nucleo.Usuario) {
			for r := 0; r < rondas; r++ {
				u.SemP(sem)
				u.Imprimir("Child%d print %d\n", hijo, r)
				if hijo == 0 {
					u.SemV(mHijos[1])
				} else {
					u.SemV(mPadre)
				}
			}
		})
	}
	for r := 0; r < rondas; r++ {
		u.SemP(mPadre)
		u.Imprimir("Parent print %d\n", r)
		u.SemV(mHijos[0])
	}
	for {
		if pid, _ := u.Esperar(proceso.EsperaCualquiera); pid < 0 {
			break
		}
	}
}

// Shell ejecuta las líneas "comando argumento" del archivo cuyo nombre está en sus datos
func Shell(u *nucleo.Usuario) {
	u.Imprimir("\n======== Shell Start ========\n\n")

	var nombre [64]byte
	u.Leer(u.DatosIniciales(), nombre[:])
	guion := strings.TrimRight(string(nombre[:]), "\x00")

	buf := u.Malloc(1024)
	fd := u.Abrir(guion, proceso.ModoLectura)
	if fd < 0 {
		u.Imprimir("shell: no se pudo abrir %s\n", guion)
		u.Salir(1)
	}
	leidos := u.LeerArchivo(fd, buf, 1024)
	u.Cerrar(fd)
	if leidos < 0 {
		u.Salir(1)
	}
	contenido := make([]byte, leidos)
	u.Leer(buf, contenido)

	for _, linea := range bytes.Split(contenido, []byte("\n")) {
		campos := strings.Fields(string(linea))
		if len(campos) == 0 {
			continue
		}
		comando, parametro := campos[0], ""
		if len(campos) > 1 {
			parametro = campos[1]
		}
		if comando == "exit" {
			break
		}

		u.Imprimir("%s:%s$ %s %s\n", "pke", u.DirActual(), comando, parametro)
		u.Imprimir("==========Command Start============\n\n")
		pid := u.Fork(func(u *nucleo.Usuario) {
			if u.Exec(comando, parametro) == -1 {
				u.Imprimir("exec failed!\n")
			}
		})
		if pid < 0 {
			u.Imprimir("fork failed!\n")
			continue
		}
		u.Esperar(pid)
		u.Imprimir("==========Command End============\n\n")
	}
	u.Salir(0)
}

// LS lista recursivamente el directorio de su argumento
func LS(u *nucleo.Usuario) {
	ruta := u.Arg()
	if ruta == "" {
		ruta = u.DirActual()
	}
	fd := u.AbrirDir(ruta)
	if fd == -1 {
		u.Imprimir("Donnot ls for a file !")
		u.Salir(0)
	}
	u.Imprimir("---------- ls command -----------\n")
	u.Imprimir("ls \"%s\":\n", ruta)
	u.Imprimir("[name]               [inode_num]\n")
	listar(u, fd, ruta, 0)
	u.Imprimir("------------------------------\n")
	u.Cerrar(fd)
}

func listar(u *nucleo.Usuario, fd int, ruta string, nivel int) {
	for {
		e, st := u.LeerDir(fd)
		if st != 0 {
			return
		}
		sangria := strings.Repeat(" ", nivel*3)
		if nivel > 0 {
			sangria += "---"
		}
		u.Imprimir("%s%-20s %d\n", sangria, e.Nombre, e.Inodo)
		if !e.EsDir {
			continue
		}
		interior := strings.TrimSuffix(ruta, "/") + "/" + e.Nombre
		if sub := u.AbrirDir(interior); sub != -1 {
			listar(u, sub, interior, nivel+1)
			u.Cerrar(sub)
		}
	}
}

// Backtrace imprime las funciones activas desde una cadena de llamadas anidadas
func Backtrace(u *nucleo.Usuario) {
	profundidad := 7
	if arg := u.Arg(); arg != "" {
		fmt.Sscanf(arg, "%d", &profundidad)
	}
	f8(u, profundidad)
}

func f8(u *nucleo.Usuario, p int) { f7(u, p) }
func f7(u *nucleo.Usuario, p int) { f6(u, p) }
func f6(u *nucleo.Usuario, p int) { f5(u, p) }
func f5(u *nucleo.Usuario, p int) { f4(u, p) }
func f4(u *nucleo.Usuario, p int) { f3(u, p) }
func f3(u *nucleo.Usuario, p int) { f2(u, p) }
func f2(u *nucleo.Usuario, p int) { f1(u, p) }
func f1(u *nucleo.Usuario, p int) { u.Backtrace(p) }

// ErrorLinea lee una dirección sin mapear; el núcleo informa la línea que falló
func ErrorLinea(u *nucleo.Usuario) {
	u.Imprimir("Going to hack the system by running privilege instructions.\n")
	u.LeerEntero(0x2000)
}
