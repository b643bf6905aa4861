package model

import "slices"

// ServiceType is a restoration service category.
type ServiceType string

const (
	ServiceWaterDamage         ServiceType = "WATER_DAMAGE"
	ServiceFireDamage          ServiceType = "FIRE_DAMAGE"
	ServiceMouldRemediation    ServiceType = "MOULD_REMEDIATION"
	ServiceStormDamage         ServiceType = "STORM_DAMAGE"
	ServiceFloodRecovery       ServiceType = "FLOOD_RECOVERY"
	ServiceSewageCleanup       ServiceType = "SEWAGE_CLEANUP"
	ServiceBiohazardCleaning   ServiceType = "BIOHAZARD_CLEANING"
	ServiceTraumaSceneCleaning ServiceType = "TRAUMA_SCENE_CLEANING"
	ServiceVandalismRepair     ServiceType = "VANDALISM_REPAIR"
	ServiceEmergencyBoardUp    ServiceType = "EMERGENCY_BOARD_UP"
	ServiceAsbestosRemoval     ServiceType = "ASBESTOS_REMOVAL"
)

// relatedServices is a directed adjacency table: a contractor offering any
// service listed under a required service is a related match for it.
var relatedServices = map[ServiceType][]ServiceType{
	ServiceWaterDamage:         {ServiceMouldRemediation, ServiceFloodRecovery, ServiceSewageCleanup},
	ServiceFireDamage:          {ServiceVandalismRepair, ServiceEmergencyBoardUp},
	ServiceMouldRemediation:    {ServiceWaterDamage, ServiceFloodRecovery},
	ServiceStormDamage:         {ServiceEmergencyBoardUp, ServiceVandalismRepair},
	ServiceFloodRecovery:       {ServiceWaterDamage, ServiceMouldRemediation, ServiceSewageCleanup},
	ServiceSewageCleanup:       {ServiceWaterDamage, ServiceBiohazardCleaning},
	ServiceBiohazardCleaning:   {ServiceTraumaSceneCleaning, ServiceSewageCleanup},
	ServiceTraumaSceneCleaning: {ServiceBiohazardCleaning},
	ServiceVandalismRepair:     {ServiceFireDamage, ServiceEmergencyBoardUp},
	ServiceEmergencyBoardUp:    {ServiceStormDamage, ServiceFireDamage, ServiceVandalismRepair},
}

// RelatedServices returns a copy of the services related to s.
func RelatedServices(s ServiceType) []ServiceType {
	return slices.Clone(relatedServices[s])
}

// IsRelated reports whether offered is tabulated as related to required.
// The lookup is directed and never reflexive.
func IsRelated(required, offered ServiceType) bool {
	return slices.Contains(relatedServices[required], offered)
}
