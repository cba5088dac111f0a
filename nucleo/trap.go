package nucleo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/LucasIBorrat/nucleo-pke/memoria"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// fondoUsuario delimita el fondo de la pila de usuario
const fondoUsuario = ".(*Nucleo).correrPrograma"

// Trap reporta una excepción del proceso con la línea de código que la produjo,
// si se la puede ubicar, o con la dirección que falló
func (n *Nucleo) Trap(u *Usuario, causa error) {
	archivo, linea, ok := lineaDeUsuario(u.simbolo)

	var fallo *memoria.FalloPagina
	donde := ""
	if errors.As(causa, &fallo) {
		donde = fmt.Sprintf("%#x", fallo.VA)
	}

	if ok {
		utils.ErrorLog.Error(fmt.Sprintf("## (%d) - Excepción", u.p.PID), "causa", causa, "archivo", archivo, "linea", linea)
		texto := fmt.Sprintf("Runtime error at %s:%d\n", archivo, linea)
		if fuente := lineaFuente(archivo, linea); fuente != "" {
			texto += "  " + fuente + "\n"
		}
		n.imprimir(texto)
		return
	}

	utils.ErrorLog.Error(fmt.Sprintf("## (%d) - Excepción", u.p.PID), "causa", causa, "va", donde)
	n.imprimir(fmt.Sprintf("Runtime error: %v\n", causa))
}

// lineaDeUsuario busca en la pila el marco más reciente del código del programa
func lineaDeUsuario(simbolo string) (string, int, bool) {
	if simbolo == "" {
		return "", 0, false
	}
	pcs := make([]uintptr, 64)
	cant := runtime.Callers(2, pcs)
	marcos := runtime.CallersFrames(pcs[:cant])
	for {
		m, mas := marcos.Next()
		if m.Function == simbolo || strings.HasPrefix(m.Function, simbolo+".") {
			return m.File, m.Line, true
		}
		if !mas {
			return "", 0, false
		}
	}
}

// lineaFuente lee la línea del archivo fuente, si está disponible
func lineaFuente(archivo string, linea int) string {
	f, err := os.Open(archivo)
	if err != nil {
		return ""
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for i := 1; s.Scan(); i++ {
		if i == linea {
			return strings.TrimSpace(s.Text())
		}
	}
	return ""
}

// Backtrace imprime hasta profundidad funciones de la pila de usuario, de la más
// reciente a la más antigua. Devuelve cuántas imprimió.
func (u *Usuario) Backtrace(profundidad int) int {
	u.entrar()
	pcs := make([]uintptr, 64)
	cant := runtime.Callers(2, pcs)
	marcos := runtime.CallersFrames(pcs[:cant])

	impresas := 0
	for impresas < profundidad {
		m, mas := marcos.Next()
		if strings.HasSuffix(m.Function, fondoUsuario) {
			break
		}
		nombre := m.Function[strings.LastIndex(m.Function, "/")+1:]
		u.n.imprimir(nombre + "\n")
		impresas++
		if !mas {
			break
		}
	}
	return impresas
}
