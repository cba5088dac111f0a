package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/LucasIBorrat/nucleo-pke/nucleo"
	"github.com/LucasIBorrat/nucleo-pke/programas"
	"github.com/LucasIBorrat/nucleo-pke/utils"
)

var (
	kernelConfig *nucleo.Config
	kernel       *nucleo.Nucleo
)

// inicializarKernel carga la configuración, arma el núcleo y levanta el servidor HTTP
func inicializarKernel(configPath string) error {
	kernelConfig = utils.CargarConfiguracion[nucleo.Config](configPath)
	kernelConfig.Normalizar()

	utils.InicializarLogger(kernelConfig.LogLevel, "Kernel")
	utils.InfoLog.Info("Inicializando Kernel", "config_path", configPath,
		"harts", kernelConfig.CantidadHarts,
		"tam_memoria", kernelConfig.TamMemoria,
		"preemptivo", kernelConfig.Preemptivo)

	registro := nucleo.NuevoRegistro()
	programas.Registrar(registro)

	var err error
	kernel, err = nucleo.Nuevo(kernelConfig, registro, os.Stdout)
	if err != nil {
		return fmt.Errorf("armando el núcleo: %w", err)
	}

	kernel.IniciarServidor()
	utils.InfoLog.Info("Kernel inicializado correctamente", "programas", registro.Rutas())
	return nil
}

// lanzarProgramasIniciales crea un proceso por programa, repartidos entre los harts.
// Cada entrada es "ruta [argumento]".
func lanzarProgramasIniciales(entradas []string) int {
	lanzados := 0
	for _, entrada := range entradas {
		ruta, arg, _ := strings.Cut(strings.TrimSpace(entrada), " ")
		if ruta == "" {
			continue
		}
		hart := lanzados % kernelConfig.CantidadHarts
		p, err := kernel.Lanzar(ruta, strings.TrimSpace(arg), hart)
		if err != nil {
			utils.ErrorLog.Error("No se pudo lanzar el programa", "ruta", ruta, "error", err)
			continue
		}
		utils.InfoLog.Info("Programa inicial lanzado", "pid", p.PID, "ruta", ruta, "hart", hart)
		lanzados++
	}
	return lanzados
}
