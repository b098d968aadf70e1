// Package store holds the relational repositories backing the alignment
// pipeline: Locations, Events, Admins and SystemSettings, each a thin
// wrapper around a shared pgxpool.Pool.
package store

import (
	"time"

	"github.com/google/uuid"
)

// JST is the fixed Japan Standard Time offset every civil-date bucketing
// in this system uses: UTC+09:00, no DST.
var JST = time.FixedZone("JST", 9*60*60)

// EventKind is the closed enumeration of alignment phenomena this system
// tracks. Values are the literal strings persisted in location_events.
type EventKind string

const (
	EventKindDiamondSunrise EventKind = "diamond_sunrise"
	EventKindDiamondSunset  EventKind = "diamond_sunset"
	EventKindPearlMoonrise  EventKind = "pearl_moonrise"
	EventKindPearlMoonset   EventKind = "pearl_moonset"
)

// IsDiamond reports whether kind is one of the Sun-alignment kinds.
func (k EventKind) IsDiamond() bool {
	return k == EventKindDiamondSunrise || k == EventKindDiamondSunset
}

// IsPearl reports whether kind is one of the Moon-alignment kinds.
func (k EventKind) IsPearl() bool {
	return k == EventKindPearlMoonrise || k == EventKindPearlMoonset
}

// AccuracyTier is the closed ordinal quality band derived from an event's
// combined angular residual.
type AccuracyTier string

const (
	AccuracyPerfect   AccuracyTier = "perfect"
	AccuracyExcellent AccuracyTier = "excellent"
	AccuracyGood      AccuracyTier = "good"
	AccuracyFair      AccuracyTier = "fair"
)

// TierForQuality derives the accuracy tier from a quality score in [0, 1].
func TierForQuality(q float64) AccuracyTier {
	switch {
	case q >= 0.90:
		return AccuracyPerfect
	case q >= 0.75:
		return AccuracyExcellent
	case q >= 0.50:
		return AccuracyGood
	default:
		return AccuracyFair
	}
}

// Location is a curated ground observation point, with derived geometry
// toward the Fuji summit cached alongside the base geodetic fields.
type Location struct {
	ID          int64
	Name        string
	Prefecture  string
	Latitude    float64
	Longitude   float64
	Elevation   float64
	AccessNotes string

	// Derived geometry; recomputed whenever (Latitude, Longitude,
	// Elevation) change. See GeometryStale.
	FujiBearingDeg           float64
	FujiApparentElevationDeg float64
	FujiDistanceM            float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GeometryStale reports whether the stored derived triple could not have
// been produced by the stored base fields, the StaleDerivedGeometry
// condition. A recompute from the same (lat, lon, elev) is deterministic,
// so callers detect staleness by comparing against a fresh recomputation,
// which this flag records for repository callers that already hold both.
func (l Location) GeometryStale(freshBearing, freshElevation, freshDistanceM float64) bool {
	const tol = 1e-6
	return absDiff(l.FujiBearingDeg, freshBearing) > tol ||
		absDiff(l.FujiApparentElevationDeg, freshElevation) > tol ||
		absDiff(l.FujiDistanceM, freshDistanceM) > tol
}

func absDiff(a, b float64) float64 {
	if a < b {
		return b - a
	}
	return a - b
}

// Event is one computed Diamond/Pearl alignment instant for a Location.
type Event struct {
	ID         int64
	LocationID int64
	Kind       EventKind
	EventDate  time.Time // civil date at JST midnight
	EventTime  time.Time // absolute instant, tz-aware

	CelestialAzimuthDeg  float64
	CelestialAltitudeDeg float64

	MoonPhase                *float64
	MoonIlluminationFraction *float64

	QualityScore    float64
	AccuracyTier    AccuracyTier
	CalculationYear int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Admin is the external auth collaborator's persisted row; the core only
// stores and validates shape, never mechanics.
type Admin struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SettingType tags how a SystemSetting's string Value should be parsed at
// the edges.
type SettingType string

const (
	SettingTypeInt     SettingType = "int"
	SettingTypeFloat   SettingType = "float"
	SettingTypeBool    SettingType = "bool"
	SettingTypeString  SettingType = "string"
	SettingTypeIntList SettingType = "int_list"
)

// SystemSetting is one row of the runtime key/value store.
type SystemSetting struct {
	Key         string
	Value       string
	Type        SettingType
	Description string
	Editable    bool
	UpdatedAt   time.Time
}

// CivilDateAt returns the JST midnight instant for y-m-d, the value used
// as an Event's EventDate bucket.
func CivilDateAt(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, JST)
}

// NowJST returns the current instant; callers bucket dates from this with
// .In(JST).
func NowJST() time.Time {
	return time.Now().In(JST)
}
