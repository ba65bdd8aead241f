package scenario

// Seed provides the built-in front-desk training scenarios.
func Seed() []Scenario {
	return []Scenario{
		{
			ID:        "overbooked-room",
			Title:     "Overbooked on arrival",
			Situation: "A guest arrives at 11pm after a delayed flight. The hotel is overbooked and their confirmed king room is not available.",
			Objectives: []string{
				"Acknowledge the inconvenience and apologise sincerely",
				"Offer a concrete alternative: a partner hotel with paid transport or an upgrade tomorrow",
				"Get the guest to accept one of the options",
			},
			Constraints: []string{
				"You cannot promise a king room tonight",
				"Compensation is capped at one free night",
			},
			Difficulty: Hard,
			Completion: CompletionRules{
				MaxTraineeTurns: 8,
				SuccessPhrases:  []string{"shuttle is on its way", "i have booked you at"},
				ExitPhrases:     []string{"i'm done here", "i will write a review"},
			},
		},
		{
			ID:        "billing-dispute",
			Title:     "Minibar charge dispute",
			Situation: "At checkout a guest disputes a minibar charge of 48 dollars and says they never opened the minibar.",
			Objectives: []string{
				"Listen without interrupting and restate the complaint",
				"Explain the verification process",
				"Resolve the charge within policy",
			},
			Constraints: []string{
				"Charges under 50 dollars may be waived by front desk staff",
			},
			Difficulty: Medium,
			Completion: CompletionRules{
				MaxTraineeTurns: 6,
				SuccessPhrases:  []string{"i have removed the charge", "the charge has been waived"},
			},
		},
		{
			ID:        "late-checkout",
			Title:     "Late checkout request",
			Situation: "A business traveller asks for a 4pm checkout on a fully booked day.",
			Objectives: []string{
				"Check availability before answering",
				"Offer the best option available, such as 2pm checkout or luggage storage and lounge access",
			},
			Difficulty: Easy,
			Completion: CompletionRules{
				MaxTraineeTurns: 5,
				SuccessPhrases:  []string{"checkout is extended", "your luggage will be stored"},
			},
		},
	}
}
