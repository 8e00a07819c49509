package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"freespace-backend/internal/persona"
	"freespace-backend/internal/session"
)

// classifyUtterance runs one utterance through a persona's classifier and
// detectors without calling any model.
func classifyUtterance(out io.Writer, personaFile, key, utterance string, showPrompt bool) error {
	catalog, err := persona.Load(personaFile)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}
	per, err := catalog.Get(key)
	if err != nil {
		return err
	}

	sess := session.NewSession("cli", per.Key, per.Defaults(), session.StartOptions{}, time.Now())
	var prompt string
	err = sess.Turn(func(c *session.Context, h *session.History) error {
		per.Detectors.Apply(c, utterance)
		cat := per.Classifier().Classify(utterance)
		c.CurrentTopic = string(cat)

		fmt.Fprintf(out, "persona:  %s (%s)\n", per.Name, per.Key)
		fmt.Fprintf(out, "category: %s\n", cat)
		fmt.Fprintf(out, "mood:     %s\n", c.Mood)
		fmt.Fprintf(out, "stress:   %s\n", c.StressLevel.Label())
		fmt.Fprintf(out, "topics:   %s\n", strings.Join(c.DetectedTopics, ", "))
		fmt.Fprintf(out, "prefs:    %s\n", strings.Join(c.Preferences, ", "))
		if !showPrompt {
			return nil
		}
		p, err := per.Composer().Compose(cat, c.Snapshot(), h.Recent(per.HistoryWindow), utterance)
		prompt = p
		return err
	})
	if err != nil {
		return err
	}
	if showPrompt {
		fmt.Fprintf(out, "\n%s\n", prompt)
	}
	return nil
}
