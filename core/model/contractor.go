package model

import (
	"slices"
	"time"
)

// Tier is a contractor membership level. Tiers are ordered
// FOUNDATION < PROFESSIONAL < ENTERPRISE < FRANCHISE.
type Tier string

const (
	TierFoundation   Tier = "FOUNDATION"
	TierProfessional Tier = "PROFESSIONAL"
	TierEnterprise   Tier = "ENTERPRISE"
	TierFranchise    Tier = "FRANCHISE"
)

// Rank orders tiers; unknown tiers rank below FOUNDATION.
func (t Tier) Rank() int {
	switch t {
	case TierFoundation:
		return 1
	case TierProfessional:
		return 2
	case TierEnterprise:
		return 3
	case TierFranchise:
		return 4
	default:
		return 0
	}
}

// Tiers lists known tiers from highest to lowest.
func Tiers() []Tier {
	return []Tier{TierFranchise, TierEnterprise, TierProfessional, TierFoundation}
}

// Contractor is a read-only snapshot of an independent contractor.
type Contractor struct {
	ID                   string        `json:"id" bson:"_id" validate:"required"`
	Name                 string        `json:"name" bson:"name"`
	Email                string        `json:"email,omitempty" bson:"email,omitempty" validate:"omitempty,email"`
	Phone                string        `json:"phone,omitempty" bson:"phone,omitempty"`
	Tier                 Tier          `json:"tier" bson:"tier" validate:"required,oneof=FOUNDATION PROFESSIONAL ENTERPRISE FRANCHISE"`
	Rating               float64       `json:"rating" bson:"rating" validate:"gte=0,lte=5"`
	CompletionRate       float64       `json:"completion_rate" bson:"completion_rate" validate:"gte=0,lte=1"`
	Workload             int           `json:"workload" bson:"workload" validate:"gte=0"`
	ServiceRadiusKm      float64       `json:"service_radius_km" bson:"service_radius_km" validate:"gte=0"`
	Specializations      []ServiceType `json:"specializations" bson:"specializations"`
	Location             Point         `json:"location" bson:"location"`
	LastActiveAt         time.Time     `json:"last_active_at" bson:"last_active_at"`
	Available            bool          `json:"available" bson:"available"`
	AvgResponseMinutes   float64       `json:"avg_response_minutes" bson:"avg_response_minutes" validate:"gte=0"`
	NotificationChannels []string      `json:"notification_channels,omitempty" bson:"notification_channels,omitempty"`
}

// Offers reports whether the contractor lists s among its specializations.
func (c Contractor) Offers(s ServiceType) bool {
	return slices.Contains(c.Specializations, s)
}
