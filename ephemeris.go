// Last modified: 2025.9.22
//
// SatEphemerisProvider gives the estimator core a seam onto the external
// collaborator that §1 explicitly places out of scope (ephemeris evaluation).
// DefaultEphemerisProvider wraps the kept satpos.go algorithm (unchanged) so
// a caller with nothing more exotic than a broadcast Nav table can still
// drive a Session directly.

package rtkcore

import "fmt"

// SatEphemerisProvider resolves a satellite's transmit-time state for a
// given receiver-time/pseudorange pair, as described in §3 SatelliteState.
type SatEphemerisProvider interface {
	// State returns satellite position, clock bias [s], clock drift [s/s],
	// health flag and broadcast ionosphere variance [m^2] (0 if unavailable)
	// for sat at receiver time rcvt with pseudorange psr [m].
	State(sat SatType, rcvt GTime, psr float64) (SatelliteState, error)
}

// SatelliteState is the resolved per-satellite geometry/clock bundle
// consumed by the observation builder (§3).
type SatelliteState struct {
	Pos       PosXYZ
	ClkBias   float64
	ClkDrift  float64
	Healthy   bool
	IonoVar   float64
	Wavelength float64
}

// DefaultEphemerisProvider resolves broadcast ephemerides from a Nav table
// via the kept SatPos algorithm.
type DefaultEphemerisProvider struct {
	Nav *Nav
}

// NewDefaultEphemerisProvider builds a provider over an already-loaded
// broadcast navigation table.
func NewDefaultEphemerisProvider(nav *Nav) *DefaultEphemerisProvider {
	return &DefaultEphemerisProvider{Nav: nav}
}

func (p *DefaultEphemerisProvider) State(sat SatType, rcvt GTime, psr float64) (SatelliteState, error) {
	eph, err := p.Nav.GetEphe(sat, rcvt)
	if err != nil {
		return SatelliteState{}, wrapErr(InputInvalid, "DefaultEphemerisProvider.State", fmt.Errorf("%s: %w", sat, err))
	}
	xyz := SatPos(eph, rcvt, psr)
	clk, drift := SatClkBias(eph, rcvt)
	return SatelliteState{
		Pos:        xyz,
		ClkBias:    clk,
		ClkDrift:   drift,
		Healthy:    eph.IsHealthy(),
		Wavelength: wavelengthOf(sat),
	}, nil
}

// wavelengthOf returns the L1-band carrier wavelength [m] for the given
// satellite's system, per const.go's frequency table.
func wavelengthOf(sat SatType) float64 {
	switch sat.Sys() {
	case 'G', 'J':
		return C / L1
	case 'E':
		return C / E1
	case 'C':
		return C / B1
	case 'R':
		// GLONASS FDMA: caller must add the per-channel frequency offset;
		// this is the nominal G1 center wavelength.
		return C / G1
	default:
		return C / L1
	}
}
