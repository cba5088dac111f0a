package utils

import (
	"fmt"
	"time"
)

// AplicarRetardo aplica un retardo simulado y lo registra
func AplicarRetardo(operacion string, duracionMs int) {
	if duracionMs <= 0 {
		return
	}
	InfoLog.Debug("Aplicando retardo", "operación", operacion, "duración_ms", duracionMs)
	time.Sleep(time.Duration(duracionMs) * time.Millisecond)
}

// ExtraerEntero obtiene un campo numérico de los datos de un mensaje
func ExtraerEntero(msg *Mensaje, clave string) (int, error) {
	datosMap, ok := msg.Datos.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("datos del mensaje con formato incorrecto")
	}

	switch valor := datosMap[clave].(type) {
	case float64:
		return int(valor), nil
	case int:
		return valor, nil
	case nil:
		return 0, fmt.Errorf("falta el campo %s", clave)
	default:
		return 0, fmt.Errorf("campo %s con formato incorrecto", clave)
	}
}

// ExtraerTexto obtiene un campo de texto de los datos de un mensaje
func ExtraerTexto(msg *Mensaje, clave string, valorPorDefecto string) string {
	if datosMap, ok := msg.Datos.(map[string]interface{}); ok {
		if texto, ok := datosMap[clave].(string); ok {
			return texto
		}
	}
	return valorPorDefecto
}
