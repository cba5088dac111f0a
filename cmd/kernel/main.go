package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LucasIBorrat/nucleo-pke/utils"
	"github.com/mattn/go-tty"
)

func main() {
	utils.InicializarLogger("INFO", "kernel")
	utils.InfoLog.Info("Kernel iniciando", "args", os.Args)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Uso: %s <archivo_configuracion> [\"programa argumento\"]...\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ejemplo: %s configs/kernel.config \"/bin/app_hola mundo\"\n", os.Args[0])
		os.Exit(1)
	}

	configPath := os.Args[1]
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		utils.ErrorLog.Error("El archivo de configuración no existe", "archivo", configPath)
		os.Exit(1)
	}

	if err := inicializarKernel(configPath); err != nil {
		utils.ErrorLog.Error("Error durante la inicialización del Kernel", "error", err)
		os.Exit(1)
	}

	iniciales := append(append([]string{}, kernelConfig.ProgramasIniciales...), os.Args[2:]...)
	if lanzarProgramasIniciales(iniciales) == 0 {
		utils.ErrorLog.Error("No hay programas para ejecutar")
		os.Exit(1)
	}

	esperarTecla("Presione una tecla para iniciar los harts...")
	utils.InfoLog.Info("Iniciando harts", "cantidad", kernelConfig.CantidadHarts)

	ctx, cancelar := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelar()

	if err := kernel.Correr(ctx); err != nil {
		utils.ErrorLog.Error("El núcleo terminó con error", "error", err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		fmt.Println("\nKernel finalizando...")
		return
	}
	fmt.Println("System is shutting down with exit code 0.")
}

// esperarTecla bloquea hasta una pulsación en la terminal; sin terminal sigue de largo
func esperarTecla(mensaje string) {
	t, err := tty.Open()
	if err != nil {
		utils.InfoLog.Warn("Sin terminal, se inicia sin esperar", "error", err)
		return
	}
	defer t.Close()

	fmt.Println(mensaje)
	if _, err := t.ReadRune(); err != nil {
		utils.ErrorLog.Error("Error leyendo la terminal", "error", err)
	}
}
