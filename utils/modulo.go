package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Modulo representa un módulo del sistema con su servidor HTTP y sus handlers
type Modulo struct {
	Nombre      string
	Server      *HTTPServer
	ConfigPath  string
	HandlerFunc map[string]map[string]HTTPHandlerFunc
}

// NuevoModulo crea una nueva instancia de un módulo
func NuevoModulo(nombre string, configPath string) *Modulo {
	return &Modulo{
		Nombre:      nombre,
		ConfigPath:  configPath,
		HandlerFunc: make(map[string]map[string]HTTPHandlerFunc),
	}
}

// RegistrarHandler registra un handler para un tipo de mensaje y operación específicos
func (m *Modulo) RegistrarHandler(tipo int, operacion string, handler HTTPHandlerFunc) {
	clave := strconv.Itoa(tipo)
	if _, existe := m.HandlerFunc[clave]; !existe {
		m.HandlerFunc[clave] = make(map[string]HTTPHandlerFunc)
	}
	m.HandlerFunc[clave][operacion] = handler
}

// Despachar resuelve el handler de un mensaje según tipo y operación ("default" si no hay uno específico)
func (m *Modulo) Despachar(msg *Mensaje) (interface{}, error) {
	handlersPorOperacion, existe := m.HandlerFunc[strconv.Itoa(msg.Tipo)]
	if !existe {
		return nil, fmt.Errorf("no hay manejador para el tipo de mensaje %d", msg.Tipo)
	}

	operacion := msg.Operacion
	if operacion == "" {
		operacion = "default"
	}

	handler, existe := handlersPorOperacion[operacion]
	if !existe {
		handler, existe = handlersPorOperacion["default"]
		if !existe {
			slog.Error("No hay handler para operación", "tipo", msg.Tipo, "operacion", operacion)
			return nil, fmt.Errorf("no hay handler para operación %s", operacion)
		}
	}

	return handler(msg)
}

// IniciarServidor crea el servidor HTTP del módulo y lo pone a escuchar en segundo plano
func (m *Modulo) IniciarServidor(ip string, puerto int) {
	m.Server = NewHTTPServer(ip, puerto, m.Nombre)

	for clave := range m.HandlerFunc {
		tipo, err := strconv.Atoi(clave)
		if err != nil {
			ErrorLog.Error("Error al convertir tipo de mensaje a entero", "tipo", clave, "error", err)
			continue
		}
		m.Server.RegisterHTTPHandler(tipo, m.Despachar)
	}

	go func() {
		if err := m.Server.Start(); err != nil {
			ErrorLog.Error("Error en servidor HTTP", "módulo", m.Nombre, "error", err)
		}
	}()

	InfoLog.Info("Servidor HTTP iniciado", "módulo", m.Nombre, "dirección", fmt.Sprintf("%s:%d", ip, puerto))
}

// LeerConfiguracion decodifica un archivo JSON en el tipo pedido
func LeerConfiguracion[T any](ruta string) (*T, error) {
	absPath, err := filepath.Abs(ruta)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo ruta absoluta de %s: %w", ruta, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("error abriendo archivo de configuración %s: %w", absPath, err)
	}
	defer file.Close()

	var config T
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("error decodificando configuración %s: %w", absPath, err)
	}

	return &config, nil
}

// CargarConfiguracion lee la configuración y termina el proceso si no se puede
func CargarConfiguracion[T any](ruta string) *T {
	InfoLog.Info("Cargando configuración", "ruta", ruta)

	config, err := LeerConfiguracion[T](ruta)
	if err != nil {
		ErrorLog.Error("Error cargando configuración", "error", err)
		os.Exit(1)
	}

	InfoLog.Info("Configuración cargada correctamente")
	return config
}

// ============================================================================
// Constantes para tipos de mensajes entre el núcleo y la consola
// ============================================================================
const (
	// === COMUNICACIÓN BÁSICA (1-9) ===
	MensajeHandshake = 1 // Conexión inicial

	// === MEMORIA (10-19) ===
	MensajeTraducir     = 10 // Traducir dirección virtual de un proceso
	MensajeEspacioLibre = 14 // Estadísticas de marcos
	MensajeMemoryDump   = 15 // Volcado de memoria de un proceso

	// === PROCESOS (20-29) ===
	MensajeListarProcesos = 20 // Estado de la tabla de procesos
	MensajeSemaforos      = 21 // Estado de los semáforos
)
