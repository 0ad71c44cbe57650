package composer

import (
	"fmt"
	"strings"
)

const vignetteSystem = `You are a master storyteller writing narrative vignettes for mature readers about a Pillars of Eternity II: Deadfire playthrough, flavoured by A Song of Ice and Fire. Write character-driven, layered scenes with wit and restraint.`

const vignetteObjective = `Write a short intermediary scene for a Pillars of Eternity II: Deadfire playthrough that bridges recent events and what comes next. The party reflects on what just happened and prepares for the next step. Prose is clear and grounded RPG writing, not purple. Dialogue is witty and plot-focused. Keep forward momentum and blend the tone of the Deadfire with the intrigue of A Song of Ice and Fire, using Deadfire names and places.`

const vignetteInstructions = `Write a vignette of 800 to 1200 words that:
1. Optionally shows consequences of recent events
2. Shows character interactions and development
3. Stays consistent with previous story elements
4. Uses one of the theme options as inspiration
5. Keeps the mundane texture of daily life: chores, needs, small worries

Return only the vignette text.`

const summarySystem = `You write compact narrative summaries of story vignettes so later scenes can stay consistent with them.`

const summaryInstructions = `Summarize the vignette below in 100 to 200 words, capturing:
1. Key character interactions and developments
2. Important plot points or discoveries
3. Emotional or relationship changes
4. Setting or location significance
5. Tone and style
Use dense shorthand: abbreviations, symbols and punctuation as operators, dropped articles where meaning stays clear, no emojis. Another model must be able to reconstruct the meaning.

Vignette:
%s

Return only the summary.`

const crewSystem = `You are a JSON data processor. Return only valid JSON with no commentary. If the full document would be too long, make minimal changes so it fits.`

const crewInstructions = `Read the vignette and the current crew details, and update relationships, status or details that the events of the vignette changed.

Current Crew Details:
%s

New Vignette:
%s

Rules:
1. Return only complete, valid JSON that starts with { and ends with }
2. Keep every existing character, changed or not
3. No text before or after the JSON
4. If space is short, make minimal changes only
5. Keep every string brief: abbreviations, symbols, dropped articles

If nothing meaningful changed, return the original JSON unchanged.`

const continuationSystem = `You are a master storyteller writing interactive continuations of Pillars of Eternity II scenes. Respond directly to the player's direction while keeping the story coherent.`

const continuationObjective = `Continue the previous scene for a Pillars of Eternity II: Deadfire playthrough as a direct response to the player's direction: %q`

const continuationInstructions = `Write a continuation of 400 to 800 words that:
1. Responds directly to the player's direction
2. Shows how the characters react to or carry out the suggestion
3. Stays consistent with previous story elements
4. Advances the narrative in the direction given
5. Focuses on character interaction and believable consequences

Return only the scene text.`

const continuationSummarySystem = `You write compact narrative summaries of interactive story continuations.`

const continuationSummaryInstructions = `Summarize this interactive continuation in 100 to 150 words, capturing:
1. The player's direction: %q
2. Character responses and interactions
3. Key plot developments
4. Setting details

Vignette:
%s

Return only the summary.`

const locationSystem = `You are an expert at reading game save contents and telling in-game locations apart from other files.`

const locationInstructions = `The following files are new in a game save. Decide which of them are in-game locations (maps, levels, areas, zones, regions) rather than settings, saves, logs or temporary files.

New files:
%s

Reply with only the file names that are in-game locations, one per line. If none are, reply with NONE.`

const combatSystem = `You are an expert at analysing game combat logs and writing clear, concise summaries of encounters and outcomes.`

const combatInstructions = `Summarize and analyse the combat log below, organised into these sections:

**1. Executive Summary:**
The overall flow of the battle, the combatants and the outcome.

**2. Key Events & Turning Points:**
The most impactful moments in order: significant deaths, large area abilities, characters in danger or heavily healed, interrupted enemy abilities.

**3. Character Performance Highlights:**
For each party member: notable high-damage attacks, support actions, killing blows.

**4. Enemy Analysis:**
The main threats, their most dangerous abilities and whom they focused.

**5. Enemy Threat Report:**
Per enemy type: primary abilities used, successful hits landed, killed by.

**6. Battle Timeline:**
First blood, first kill, most powerful attack, crucial heal, experience gains, level ups.

**Combat Log Content:**
%s`

// Summary builds the second prompt of a cycle.
func Summary(vignette string) Prompt {
	return Prompt{System: summarySystem, User: fmt.Sprintf(summaryInstructions, vignette)}
}

// CrewUpdate builds the third prompt of a cycle from the full crew record.
func CrewUpdate(vignette, crewJSON string) Prompt {
	return Prompt{System: crewSystem, User: fmt.Sprintf(crewInstructions, crewJSON, vignette)}
}

// ContinuationSummary summarizes an interactive continuation.
func ContinuationSummary(vignette, userMessage string) Prompt {
	return Prompt{System: continuationSummarySystem, User: fmt.Sprintf(continuationSummaryInstructions, userMessage, vignette)}
}

// LocationClassification asks which new save files are in-game locations.
func LocationClassification(files []string) Prompt {
	return Prompt{System: locationSystem, User: fmt.Sprintf(locationInstructions, strings.Join(files, "\n"))}
}

// CombatLog asks for a sectioned analysis of a raw combat log excerpt.
func CombatLog(excerpt string) Prompt {
	return Prompt{System: combatSystem, User: fmt.Sprintf(combatInstructions, excerpt)}
}
