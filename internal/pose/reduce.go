package pose

// DefaultMinKeypointScore is the confidence a side must reach to count.
const DefaultMinKeypointScore = 0.2

// bilateral lists the left/right pair feeding each reduced joint.
var bilateral = [...]struct {
	part        Part
	left, right Joint
}{
	{PartShoulder, LeftShoulder, RightShoulder},
	{PartHip, LeftHip, RightHip},
	{PartKnee, LeftKnee, RightKnee},
	{PartAnkle, LeftAnkle, RightAnkle},
}

// side is an optional gated coordinate.
type side struct {
	pt Point
	ok bool
}

func gate(set KeypointSet, j Joint, minScore float64) side {
	kp, found := set[j]
	if !found || kp.Score < minScore {
		return side{}
	}
	return side{pt: kp.Point(), ok: true}
}

// combine merges two gated sides: midpoint when both pass, the passing side
// when only one does.
func combine(l, r side) side {
	switch {
	case l.ok && r.ok:
		return side{pt: l.pt.Midpoint(r.pt), ok: true}
	case l.ok:
		return l
	case r.ok:
		return r
	default:
		return side{}
	}
}

// Reduce collapses bilateral joints into shoulder, hip, knee and ankle
// midpoints. Sides scoring below minScore are ignored. If any of the four
// joints has no passing side the whole pose is absent and Reduce returns nil.
func Reduce(set KeypointSet, minScore float64) *ReducedPose {
	if len(set) == 0 {
		return nil
	}

	parts := make(map[Part]Point, len(bilateral))
	for _, b := range bilateral {
		s := combine(gate(set, b.left, minScore), gate(set, b.right, minScore))
		if !s.ok {
			return nil
		}
		parts[b.part] = s.pt
	}
	return ReducedFromJoints(parts)
}
