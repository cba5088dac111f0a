package memoria

import "sync/atomic"

// Metricas acumula contadores de uso de la memoria
type Metricas struct {
	RecorridosTabla  atomic.Int64
	MarcosAsignados  atomic.Int64
	MarcosLiberados  atomic.Int64
	FallosCOWCopia   atomic.Int64
	FallosCOWReclamo atomic.Int64
	Lecturas         atomic.Int64
	Escrituras       atomic.Int64
	AciertosTLB      atomic.Int64
	FallosTLB        atomic.Int64
}

// ResumenMetricas es una foto de las métricas para serializar
type ResumenMetricas struct {
	RecorridosTabla  int64 `json:"recorridos_tabla"`
	MarcosAsignados  int64 `json:"marcos_asignados"`
	MarcosLiberados  int64 `json:"marcos_liberados"`
	FallosCOWCopia   int64 `json:"fallos_cow_copia"`
	FallosCOWReclamo int64 `json:"fallos_cow_reclamo"`
	Lecturas         int64 `json:"lecturas"`
	Escrituras       int64 `json:"escrituras"`
	AciertosTLB      int64 `json:"aciertos_tlb"`
	FallosTLB        int64 `json:"fallos_tlb"`
}

// Resumen toma una foto de los contadores
func (m *Metricas) Resumen() ResumenMetricas {
	return ResumenMetricas{
		RecorridosTabla:  m.RecorridosTabla.Load(),
		MarcosAsignados:  m.MarcosAsignados.Load(),
		MarcosLiberados:  m.MarcosLiberados.Load(),
		FallosCOWCopia:   m.FallosCOWCopia.Load(),
		FallosCOWReclamo: m.FallosCOWReclamo.Load(),
		Lecturas:         m.Lecturas.Load(),
		Escrituras:       m.Escrituras.Load(),
		AciertosTLB:      m.AciertosTLB.Load(),
		FallosTLB:        m.FallosTLB.Load(),
	}
}
