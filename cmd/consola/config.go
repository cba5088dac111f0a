package main

import "github.com/LucasIBorrat/nucleo-pke/utils"

// ConsolaConfig define la configuración de la consola de inspección
type ConsolaConfig struct {
	IPKernel       string `json:"IP_KERNEL"`
	PortKernel     int    `json:"PUERTO_KERNEL"`
	LogLevel       string `json:"LOG_LEVEL"`
	IntentosMaximo int    `json:"INTENTOS_CONEXION"`
}

var (
	config       *ConsolaConfig
	kernelClient *utils.HTTPClient
)
