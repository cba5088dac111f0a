package memoria

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fogleman/gg"

	"github.com/LucasIBorrat/nucleo-pke/utils"
)

// CrearDump escribe las páginas de usuario de la tabla, en orden de dirección virtual,
// en <dir>/<pid>-<timestamp>.dmp. Devuelve la ruta del archivo.
func CrearDump(dir string, pid int, tabla *TablaPaginas) (string, error) {
	utils.InfoLog.Info("Iniciando memory dump", "pid", pid)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error al crear directorio para dumps: %w", err)
	}

	nombreArchivo := fmt.Sprintf("%d-%s.dmp", pid, time.Now().Format("20060102-150405.000"))
	rutaCompleta := filepath.Join(dir, nombreArchivo)

	dumpFile, err := os.Create(rutaCompleta)
	if err != nil {
		return "", fmt.Errorf("error al crear archivo de dump: %w", err)
	}
	defer dumpFile.Close()

	w := bufio.NewWriter(dumpFile)
	pagina := make([]byte, TamPagina)
	paginas := 0
	var errEscritura error

	tabla.Recorrido(func(va uint64, pte PTE) {
		if errEscritura != nil || !pte.Tiene(PTE_U) {
			return
		}
		if err := tabla.fisica.Leer(pte.Fisica(), pagina); err != nil {
			errEscritura = err
			return
		}
		if _, err := w.Write(pagina); err != nil {
			errEscritura = err
			return
		}
		paginas++
	})
	if errEscritura == nil {
		errEscritura = w.Flush()
	}
	if errEscritura != nil {
		return "", fmt.Errorf("error al escribir en archivo de dump: %w", errEscritura)
	}

	utils.InfoLog.Info(fmt.Sprintf("## PID: %d Memory Dump solicitado", pid))
	utils.InfoLog.Info("Memory dump completado", "pid", pid, "archivo", nombreArchivo, "paginas", paginas)
	return rutaCompleta, nil
}

const (
	columnasMapa = 64
	ladoCelda    = 8
)

// GenerarMapaMarcos dibuja un PNG con la ocupación de los marcos:
// libres en blanco, privados en azul y compartidos en naranja.
func GenerarMapaMarcos(ruta string, f *Fisica) error {
	refs := f.referenciasPorMarco()
	filas := (len(refs) + columnasMapa - 1) / columnasMapa
	if filas == 0 {
		filas = 1
	}

	dc := gg.NewContext(columnasMapa*ladoCelda, filas*ladoCelda)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for i, r := range refs {
		switch {
		case r == 0:
			continue
		case r == 1:
			dc.SetRGB(0.2, 0.4, 0.8)
		default:
			dc.SetRGB(0.95, 0.55, 0.1)
		}
		x := float64((i % columnasMapa) * ladoCelda)
		y := float64((i / columnasMapa) * ladoCelda)
		dc.DrawRectangle(x, y, ladoCelda-1, ladoCelda-1)
		dc.Fill()
	}

	if err := dc.SavePNG(ruta); err != nil {
		return fmt.Errorf("error al guardar mapa de marcos: %w", err)
	}
	utils.InfoLog.Info("Mapa de marcos generado", "archivo", ruta, "marcos", len(refs))
	return nil
}
