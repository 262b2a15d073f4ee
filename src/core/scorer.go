package main

// Score weights per anomaly and severity
const (
	weightVelocityHigh     = 25
	weightVelocityCritical = 40
	weightReplay           = 50
	weightPatternMedium    = 10
	weightPatternHigh      = 20
	weightSpikeHigh        = 30
	weightSpikeCritical    = 50
	weightEncryptionFailed = 20
	weightProofFailed      = 20

	maxThreatScore = 255
)

// Recommendation thresholds
const (
	rejectScore     = 80
	quarantineScore = 60
	flagScore       = 40
)

// IntegrityPenalties are folded into the score once encryption and proof have run
type IntegrityPenalties struct {
	EncryptionInvalid bool
	ProofInvalid      bool
}

// ScoreThreat combines the anomaly results into a bounded score, a level and a recommendation
func ScoreThreat(v VelocityResult, r ReplayResult, p PatternResult, s SpikeResult, penalties IntegrityPenalties) ThreatScore {
	score := 0

	if v.Detected {
		if v.Severity == SeverityCritical {
			score += weightVelocityCritical
		} else {
			score += weightVelocityHigh
		}
	}
	if r.Detected {
		score += weightReplay
	}
	if p.Detected {
		if p.Severity == SeverityHigh {
			score += weightPatternHigh
		} else {
			score += weightPatternMedium
		}
	}
	if s.Detected {
		if s.Severity == SeverityCritical {
			score += weightSpikeCritical
		} else {
			score += weightSpikeHigh
		}
	}
	if penalties.EncryptionInvalid {
		score += weightEncryptionFailed
	}
	if penalties.ProofInvalid {
		score += weightProofFailed
	}

	if score > maxThreatScore {
		score = maxThreatScore
	}

	return ThreatScore{
		Score:          uint8(score),
		Level:          threatLevel(score),
		Recommendation: recommend(score, s.Detected || r.Detected),
	}
}

// ScoreAnalysis scores a completed analysis including its integrity results
func ScoreAnalysis(a *OffchainAnalysis) ThreatScore {
	return ScoreThreat(a.Velocity, a.Replay, a.Pattern, a.Spike, IntegrityPenalties{
		EncryptionInvalid: !a.Encryption.Valid,
		ProofInvalid:      !a.Proof.Valid,
	})
}

func threatLevel(score int) ThreatLevel {
	switch {
	case score >= rejectScore:
		return ThreatCritical
	case score >= quarantineScore:
		return ThreatHigh
	case score >= flagScore:
		return ThreatMedium
	case score > 0:
		return ThreatLow
	default:
		return ThreatNormal
	}
}

// recommend maps a score to an action. A spike or a replay rejects outright.
func recommend(score int, forced bool) Recommendation {
	switch {
	case forced || score >= rejectScore:
		return RecommendReject
	case score >= quarantineScore:
		return RecommendQuarantine
	case score >= flagScore:
		return RecommendFlag
	default:
		return RecommendAccept
	}
}
