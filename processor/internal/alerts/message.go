package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/greendelivery/coldchain/pkg/types"
)

// MapsLink returns a Google Maps link for a coordinate pair.
func MapsLink(lat, lon float64) string {
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", lat, lon)
}

func buildAlert(ev Evaluation, rec *types.Record, th Thresholds, now time.Time) Alert {
	a := Alert{
		Kind:      ev.Kind,
		Channel:   ChannelFor(ev.Kind),
		PackageID: rec.PackageID,
		State:     StateFiring,
		Cause:     ev.Cause,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Timestamp: rec.Timestamp,
		FiredAt:   now,
	}
	if ev.Transition == TransitionRecover {
		a.State = StateResolved
	}
	if a.Timestamp == "" {
		a.Timestamp = now.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\n", rec.PackageID)

	switch ev.Kind {
	case KindDoor:
		if a.State == StateFiring {
			a.Title = "Door opened"
		} else {
			a.Title = "Door closed"
		}

	case KindSustained:
		a.Temperature = rec.Temperature
		a.GForce = rec.GForce
		a.Threshold = th.Temperature
		if a.State == StateFiring {
			a.Title = sustainedTitle(ev.Cause)
			a.Consecutive = ev.Count
			if ev.Cause == CauseShock {
				a.Threshold = th.GForce
			}
			if rec.Temperature != nil {
				fmt.Fprintf(&b, "Temperature: %.2f °C (threshold %.1f °C)\n", *rec.Temperature, th.Temperature)
			}
			if rec.GForce != nil {
				fmt.Fprintf(&b, "Shock: %.2f g (threshold %.1f g)\n", *rec.GForce, th.GForce)
			}
			fmt.Fprintf(&b, "Consecutive readings: %d\n", ev.Count)
		} else {
			a.Title = "Conditions back to normal"
			a.Threshold = th.RecoveryPoint()
			if rec.Temperature != nil {
				fmt.Fprintf(&b, "Temperature: %.2f °C (<= %.1f °C)\n", *rec.Temperature, th.RecoveryPoint())
			}
			if rec.GForce != nil {
				fmt.Fprintf(&b, "Shock: %.2f g (<= %.1f g)\n", *rec.GForce, th.GForce)
			}
		}
	}

	if rec.HasPosition() {
		fmt.Fprintf(&b, "Location: %s\n", MapsLink(*rec.Latitude, *rec.Longitude))
	}
	fmt.Fprintf(&b, "Time: %s", a.Timestamp)

	a.Message = a.Title + "\n" + b.String()
	return a
}

func sustainedTitle(c Cause) string {
	switch c {
	case CauseShock:
		return "Sustained shock alert"
	case CauseCombined:
		return "Sustained temperature and shock alert"
	default:
		return "Sustained temperature alert"
	}
}
