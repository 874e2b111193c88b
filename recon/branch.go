package recon

import (
	"fmt"

	"transitperf.dev/events/model"
)

// Some routes conflate two physically distinct branches under one
// identifier. Which branch a trip serves is derived from the
// branch-exclusive stops it visits.

type branchRule struct {
	Branches map[string][]string // branch-qualified route id -> exclusive stop ids
}

var branchRules = map[string]branchRule{
	"Red": {
		Branches: map[string][]string{
			// Ashmont branch.
			"Red-A": {
				"70085", "70086", "70087", "70088",
				"70089", "70090", "70091", "70092",
				"70093", "70094",
			},
			// Braintree branch.
			"Red-B": {
				"70095", "70096", "70097", "70098",
				"70099", "70100", "70101", "70102",
				"70103", "70104", "70105",
			},
		},
	},
}

// branchFor resolves the branch-qualified route id for a trip that
// visits the given stops. Trips visiting only trunk stops keep the
// unqualified route id. A trip visiting exclusive stops of more than
// one branch is inconsistent data; that is an error, not a guess.
func branchFor(routeID string, stops map[string]bool) (string, error) {
	rule, conflated := branchRules[routeID]
	if !conflated {
		return routeID, nil
	}

	matched := ""
	for branchID, exclusive := range rule.Branches {
		for _, stopID := range exclusive {
			if stops[stopID] {
				if matched != "" && matched != branchID {
					return "", fmt.Errorf(
						"route %s trip visits exclusive stops of both %s and %s",
						routeID, matched, branchID,
					)
				}
				matched = branchID
				break
			}
		}
	}

	if matched == "" {
		return routeID, nil
	}
	return matched, nil
}

// DisambiguateBranches assigns each event a branch-qualified route
// id derived from all stops its trip instance visits. Routes without
// conflated branches pass through with BranchRouteID == RouteID.
func DisambiguateBranches(events []model.Event) ([]model.Event, error) {
	stopsByTrip := map[tripKey]map[string]bool{}
	for _, e := range events {
		key := keyOf(e)
		if stopsByTrip[key] == nil {
			stopsByTrip[key] = map[string]bool{}
		}
		stopsByTrip[key][e.StopID] = true
	}

	branchByTrip := map[tripKey]string{}
	for key, stops := range stopsByTrip {
		branch, err := branchFor(key.RouteID, stops)
		if err != nil {
			return nil, fmt.Errorf("trip %s on %s: %w", key.TripID, key.ServiceDate, err)
		}
		branchByTrip[key] = branch
	}

	out := make([]model.Event, len(events))
	for i, e := range events {
		e.BranchRouteID = branchByTrip[keyOf(e)]
		out[i] = e
	}
	return out, nil
}

// scheduledBranchFor derives the branch-qualified route id for a
// scheduled trip from its stop-time rows.
func scheduledBranchFor(routeID string, stopTimes []model.ScheduledStopTime) (string, error) {
	stops := map[string]bool{}
	for _, st := range stopTimes {
		stops[st.StopID] = true
	}
	return branchFor(routeID, stops)
}
