package task

var edges = map[Status][]Status{
	StatusPending:     {StatusDownloading, StatusCanceled},
	StatusDownloading: {StatusDownloaded, StatusFailed, StatusCanceled, StatusStalled},
	StatusDownloaded:  {StatusExtracting, StatusCanceled},
	StatusExtracting:  {StatusExtracted, StatusExtractFailed, StatusCanceled, StatusStalled},
	StatusStalled:     {StatusCanceled},
}

func next(from Status, saveOnly bool) []Status {
	if IsTerminal(from, saveOnly) {
		return nil
	}
	return edges[from]
}

// CanTransition reports whether to directly follows from.
func CanTransition(from, to Status, saveOnly bool) bool {
	for _, candidate := range next(from, saveOnly) {
		if candidate == to {
			return true
		}
	}
	return false
}

// Path returns the shortest sequence of statuses leading from one status to
// another, excluding from and ending with to. Events may skip states (a
// download-complete with no prior progress); Path fills in the steps so the
// recorded history stays a valid walk of the state machine. ok is false when
// to is unreachable. from == to yields an empty path.
func Path(from, to Status, saveOnly bool) (steps []Status, ok bool) {
	if from == to {
		return nil, true
	}
	prev := map[Status]Status{from: ""}
	queue := []Status{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, candidate := range next(current, saveOnly) {
			if _, seen := prev[candidate]; seen {
				continue
			}
			prev[candidate] = current
			if candidate == to {
				return unwind(prev, from, to), true
			}
			queue = append(queue, candidate)
		}
	}
	return nil, false
}

func unwind(prev map[Status]Status, from, to Status) []Status {
	var reversed []Status
	for s := to; s != from; s = prev[s] {
		reversed = append(reversed, s)
	}
	steps := make([]Status, len(reversed))
	for i, s := range reversed {
		steps[len(reversed)-1-i] = s
	}
	return steps
}
