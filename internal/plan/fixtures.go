package plan

import "fmt"

// BuiltinPlans returns the stock training plans for the given maximum
// heart rate. These are always available even when no plan files exist.
func BuiltinPlans(maxHR uint16) []TrainingPlan {
	return []TrainingPlan{
		TempoRun(maxHR),
		BaseEndurance(maxHR),
		VO2Intervals(maxHR),
	}
}

// TempoRun is a classic warmup / tempo block / cooldown session.
func TempoRun(maxHR uint16) TrainingPlan {
	return TrainingPlan{
		Name:  "Tempo Run",
		MaxHR: maxHR,
		Phases: []Phase{
			{
				Name:         "Warmup",
				Kind:         PhaseWarmUp,
				TargetZone:   Zone2,
				DurationSecs: 600,
				Transition:   Transition{Kind: TransitionTimeElapsed},
			},
			{
				Name:         "Tempo",
				Kind:         PhaseWork,
				TargetZone:   Zone3,
				DurationSecs: 1200,
				Transition:   Transition{Kind: TransitionTimeElapsed},
			},
			{
				Name:         "Cooldown",
				Kind:         PhaseCoolDown,
				TargetZone:   Zone1,
				DurationSecs: 600,
				Transition:   Transition{Kind: TransitionTimeElapsed},
			},
		},
	}
}

// BaseEndurance is a single steady aerobic block.
func BaseEndurance(maxHR uint16) TrainingPlan {
	return TrainingPlan{
		Name:  "Base Endurance",
		MaxHR: maxHR,
		Phases: []Phase{
			{
				Name:         "Steady",
				Kind:         PhaseWork,
				TargetZone:   Zone2,
				DurationSecs: 2700,
				Transition:   Transition{Kind: TransitionTimeElapsed},
			},
		},
	}
}

// VO2Intervals is five hard repeats with equal recoveries, bookended by a
// warmup and cooldown.
func VO2Intervals(maxHR uint16) TrainingPlan {
	phases := []Phase{
		{
			Name:         "Warmup",
			Kind:         PhaseWarmUp,
			TargetZone:   Zone2,
			DurationSecs: 600,
			Transition:   Transition{Kind: TransitionTimeElapsed},
		},
	}
	for i := 1; i <= 5; i++ {
		phases = append(phases,
			Phase{
				Name:         fmt.Sprintf("Interval %d", i),
				Kind:         PhaseWork,
				TargetZone:   Zone5,
				DurationSecs: 180,
				Transition:   Transition{Kind: TransitionTimeElapsed},
			},
			Phase{
				Name:         fmt.Sprintf("Recovery %d", i),
				Kind:         PhaseRecovery,
				TargetZone:   Zone1,
				DurationSecs: 180,
				Transition:   Transition{Kind: TransitionTimeElapsed},
			},
		)
	}
	phases = append(phases, Phase{
		Name:         "Cooldown",
		Kind:         PhaseCoolDown,
		TargetZone:   Zone2,
		DurationSecs: 600,
		Transition:   Transition{Kind: TransitionTimeElapsed},
	})
	return TrainingPlan{Name: "VO2 Intervals", MaxHR: maxHR, Phases: phases}
}
