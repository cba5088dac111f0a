package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/LucasIBorrat/nucleo-pke/utils"
	"github.com/mattn/go-tty"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Uso: ./consola <ruta_configuracion>")
		fmt.Println("Ejemplo: ./consola configs/consola.config")
		os.Exit(1)
	}

	rutaConfig := os.Args[1]
	if _, err := os.Stat(rutaConfig); os.IsNotExist(err) {
		fmt.Printf("Error: El archivo de configuración '%s' no existe\n", rutaConfig)
		os.Exit(1)
	}

	inicializarConsola(rutaConfig)

	if err := conectarConReintentos(config.IntentosMaximo); err != nil {
		utils.ErrorLog.Error("No se pudo conectar con el Kernel", "error", err)
		os.Exit(1)
	}

	fmt.Println(ayuda)
	leer, cerrar := abrirEntrada()
	defer cerrar()

	for {
		fmt.Print("pke> ")
		linea, err := leer()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				utils.ErrorLog.Error("Error leyendo la entrada", "error", err)
			}
			return
		}

		p, err := interpretar(linea)
		if errors.Is(err, errSalir) {
			return
		}
		if err != nil {
			fmt.Println(err)
			continue
		}
		if p == nil {
			continue
		}

		respuesta, err := ejecutar(p)
		if err != nil {
			fmt.Println("Error:", err)
			continue
		}
		salida, _ := json.MarshalIndent(respuesta, "", "  ")
		fmt.Println(string(salida))
	}
}

func inicializarConsola(rutaConfig string) {
	utils.InicializarLogger("INFO", "Consola")
	config = utils.CargarConfiguracion[ConsolaConfig](rutaConfig)
	utils.InicializarLogger(config.LogLevel, "Consola")

	if config.IntentosMaximo <= 0 {
		config.IntentosMaximo = 10
	}
	kernelClient = utils.NewHTTPClient(config.IPKernel, config.PortKernel, "Consola->Kernel")
	utils.InfoLog.Info("Consola inicializada", "ip_kernel", config.IPKernel, "puerto_kernel", config.PortKernel)
}

// conectarConReintentos espera a que el Kernel responda el health check
func conectarConReintentos(intentosMax int) error {
	var err error
	for i := 1; i <= intentosMax; i++ {
		if err = kernelClient.VerificarConexion(); err == nil {
			return nil
		}
		utils.InfoLog.Warn("Reintentando conexión", "destino", "Kernel", "intento", i, "próximo_en", "2s")
		time.Sleep(2 * time.Second)
	}
	return err
}

// abrirEntrada lee líneas de la terminal; si stdin no es una terminal, las lee de stdin
func abrirEntrada() (func() (string, error), func()) {
	t, err := tty.Open()
	if err != nil {
		lector := bufio.NewReader(os.Stdin)
		return func() (string, error) {
			linea, err := lector.ReadString('\n')
			if err != nil && linea == "" {
				return "", err
			}
			return strings.TrimSpace(linea), nil
		}, func() {}
	}
	return func() (string, error) {
		linea, err := t.ReadString()
		return strings.TrimSpace(linea), err
	}, func() { t.Close() }
}
