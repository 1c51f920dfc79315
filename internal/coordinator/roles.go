package coordinator

import "fmt"

// Role is one entry in the fixed agent catalog. Immutable configuration,
// loaded once; persona dispatch goes through the static table below, never
// open-ended string matching.
type Role struct {
	ID            string
	Name          string
	Icon          string
	PersonaPrompt string
	Temperature   float64
	IsCritic      bool
	// MaxTokenMult multiplies the configured base token budget. Longer-form
	// roles (guides, synthesis) need more room than a single scene.
	MaxTokenMult int
}

// Role IDs. Closed set.
const (
	RoleScenarioGenerator    = "scenario_generator"
	RoleEvaluator            = "evaluator"
	RoleGuideGenerator       = "guide_generator"
	RoleQualityCritic        = "quality_critic"
	RoleClinicalPsychologist = "clinical_psychologist"
	RolePediatrician         = "pediatrician"
	RoleSpecialEdTeacher     = "special_ed_teacher"
	RoleFamilySupport        = "family_support"
	RoleSynthesizer          = "synthesizer"
)

// roleCatalog is the closed persona table. Generative roles run warm
// (0.7-0.9) for variety; the critic runs near-deterministic.
var roleCatalog = map[string]*Role{
	RoleScenarioGenerator: {
		ID:          RoleScenarioGenerator,
		Name:        "Scenario Generator",
		Icon:        "📖",
		Temperature: 0.8,
		PersonaPrompt: "You write short illustrated story scenes that help young children " +
			"practice everyday social situations. Keep the language simple, warm, and concrete. " +
			"Each scene describes one moment, what the child sees, and one gentle choice to make.",
		MaxTokenMult: 1,
	},
	RoleEvaluator: {
		ID:          RoleEvaluator,
		Name:        "Answer Evaluator",
		Icon:        "💬",
		Temperature: 0.7,
		PersonaPrompt: "You respond to a parent's answer about how they would handle an everyday " +
			"situation with their child. Be encouraging and specific. Acknowledge what works in " +
			"their approach, then add at most one practical refinement.",
		MaxTokenMult: 2,
	},
	RoleGuideGenerator: {
		ID:          RoleGuideGenerator,
		Name:        "Guide Generator",
		Icon:        "🧭",
		Temperature: 0.7,
		PersonaPrompt: "You write practical situational guides for parents preparing a young child " +
			"for an everyday event. Structure the guide as: what to expect, how to prepare, " +
			"what to say in the moment, and what to do if it goes wrong.",
		MaxTokenMult: 3,
	},
	RoleQualityCritic: {
		ID:          RoleQualityCritic,
		Name:        "Quality Critic",
		Icon:        "🔍",
		Temperature: 0.3,
		IsCritic:    true,
		PersonaPrompt: "You are a strict reviewer of educational content for parents of young " +
			"children. You score content for clarity, age-appropriateness, warmth, and safety. " +
			"You respond only with the requested JSON, nothing else.",
		MaxTokenMult: 1,
	},
	RoleClinicalPsychologist: {
		ID:          RoleClinicalPsychologist,
		Name:        "Clinical Psychologist",
		Icon:        "🧠",
		Temperature: 0.7,
		PersonaPrompt: "You are a clinical child psychologist advising parents. Ground answers in " +
			"developmental psychology, name the underlying need behind a behavior, and keep advice " +
			"actionable for a tired parent.",
		MaxTokenMult: 1,
	},
	RolePediatrician: {
		ID:          RolePediatrician,
		Name:        "Pediatrician",
		Icon:        "⚕️",
		Temperature: 0.7,
		PersonaPrompt: "You are a pediatrician advising parents. Cover the physical and medical side " +
			"of the question, flag anything that warrants an in-person visit, and avoid alarmism.",
		MaxTokenMult: 1,
	},
	RoleSpecialEdTeacher: {
		ID:          RoleSpecialEdTeacher,
		Name:        "Special Education Teacher",
		Icon:        "🏫",
		Temperature: 0.8,
		PersonaPrompt: "You are a special education teacher advising parents. Offer concrete " +
			"step-by-step strategies, visual supports, and routines that work in practice, with " +
			"small fallback steps when the child resists.",
		MaxTokenMult: 1,
	},
	RoleFamilySupport: {
		ID:          RoleFamilySupport,
		Name:        "Family Support Specialist",
		Icon:        "💙",
		Temperature: 0.8,
		PersonaPrompt: "You are a family support specialist advising parents. Focus on the parent's " +
			"own load: siblings, time pressure, guilt. Suggest ways to share the work and to lower " +
			"the stakes of a hard moment.",
		MaxTokenMult: 1,
	},
	RoleSynthesizer: {
		ID:          RoleSynthesizer,
		Name:        "Synthesizer",
		Icon:        "🪢",
		Temperature: 0.7,
		PersonaPrompt: "You merge several experts' answers to a parent's question into one coherent " +
			"response. Preserve points of agreement, note real disagreements honestly, and end with " +
			"a short, prioritized list of next steps.",
		MaxTokenMult: 4,
	},
}

// LookupRole resolves a role id against the catalog.
func LookupRole(id string) (*Role, error) {
	role, ok := roleCatalog[id]
	if !ok {
		return nil, fmt.Errorf("unknown agent role %q", id)
	}
	return role, nil
}

// ExpertRoles returns the topic-expert persona ids in catalog order.
func ExpertRoles() []string {
	return []string{
		RoleClinicalPsychologist,
		RolePediatrician,
		RoleSpecialEdTeacher,
		RoleFamilySupport,
	}
}

// AllRoles returns every role id in the catalog.
func AllRoles() []string {
	ids := make([]string, 0, len(roleCatalog))
	for id := range roleCatalog {
		ids = append(ids, id)
	}
	return ids
}
