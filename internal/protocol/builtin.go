package protocol

import "github.com/jivan-ai/nexus/pkg/domain"

// Builtins returns the protocols shipped with the assistant. File-loaded
// definitions are appended after these, so a file cannot shadow a built-in
// name during resolution.
func Builtins() []Protocol {
	return []Protocol{mondayProtocol(), mondayMorningProtocol()}
}

func mondayProtocol() Protocol {
	return Protocol{
		Spec: domain.ProtocolSpec{
			Name:                 "monday",
			Aliases:              []string{"shutdown jivan", "goodbye protocol"},
			Description:          "Shutdown protocol. When explicitly invoked, closes the assistant application (not the machine).",
			SideEffects:          true,
			RequiresConfirmation: true,
			ConfirmationPolicy:   domain.ConfirmIfSideEffects,
			Triggers: []string{
				"run protocol monday",
				"execute protocol monday",
				"launch protocol monday",
				"monday protocol",
				"shutdown jivan",
				"monday",
			},
			NegativeTriggers: []string{"monday morning"},
			CooldownSeconds:  3,
			Steps: []domain.Step{
				{Type: domain.StepAction, Name: "shutdown_app"},
			},
		},
	}
}

func mondayMorningProtocol() Protocol {
	return Protocol{
		Spec: domain.ProtocolSpec{
			Name:                 "monday_morning",
			Aliases:              []string{"monday morning"},
			Description:          "Shutdown PC protocol for Monday morning. When explicitly invoked, shuts down the computer.",
			SideEffects:          true,
			RequiresConfirmation: true,
			ConfirmationPolicy:   domain.ConfirmIfSideEffects,
			Triggers: []string{
				"run protocol monday morning",
				"execute protocol monday morning",
				"launch protocol monday morning",
				"monday morning protocol",
				"shutdown monday morning",
			},
			CooldownSeconds: 3,
			Steps: []domain.Step{
				{Type: domain.StepAction, Name: "shutdown_pc"},
			},
		},
	}
}
