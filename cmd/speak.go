package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/cardspeak/internal/speech"
)

func handleSpeak(ctx context.Context, c *cli.Command) error {
	text, err := textArg(c)
	if err != nil {
		return err
	}

	sess, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	lang := c.String("lang")
	speak := sess.orch.Speak
	if c.Bool("local") {
		if lang == "" {
			lang = sess.fetcher.DetectLanguage(ctx, text)
		}
		speak = sess.orch.SpeakLocal
	}

	utt, ok := speak(ctx, text, lang)
	if !ok {
		return fmt.Errorf("speech not accepted (disabled in settings or already speaking)")
	}

	select {
	case <-utt.Done():
	case <-ctx.Done():
		sess.orch.Stop()
		return nil
	}

	log.Debug().Str("id", utt.ID).Str("route", utt.Route().String()).Msg("Utterance finished")
	if utt.Route() == speech.SpeakingLocal && !c.Bool("local") {
		color.Yellow("Spoken with on-device voice (remote speech unavailable)")
	}
	return nil
}

func handleFetch(ctx context.Context, c *cli.Command) error {
	text, err := textArg(c)
	if err != nil {
		return err
	}

	sess, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	audio, lang, err := sess.fetcher.Fetch(ctx, text, c.String("lang"))
	if err != nil {
		return err
	}
	log.Debug().Str("lang", lang).Int("bytes", len(audio.Data)).Msg("Fetched remote audio")

	var data []byte
	if c.Bool("data-uri") {
		data = []byte(audio.DataURI() + "\n")
	} else {
		data = audio.Data
	}

	output := c.String("output")
	if output == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	color.Green("Wrote %s (%d bytes, lang %s)", output, len(data), lang)
	return nil
}

func handleDetect(ctx context.Context, c *cli.Command) error {
	text, err := textArg(c)
	if err != nil {
		return err
	}

	sess, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Println(sess.fetcher.DetectLanguage(ctx, text))
	return nil
}

func handleVoices(ctx context.Context, c *cli.Command) error {
	sess, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer sess.Close()

	return printVoices(ctx, os.Stdout, sess, c.String("lang"))
}

func printVoices(ctx context.Context, w io.Writer, sess *session, lang string) error {
	heading := color.New(color.Bold).SprintFunc()

	remote, err := sess.fetcher.Voices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}
	fmt.Fprintf(w, "%s\n", heading(fmt.Sprintf("Remote voices (%s):", sess.fetcher.ProviderName())))
	for _, v := range remote {
		if lang != "" && !strings.HasPrefix(strings.ToLower(v.Language), strings.ToLower(lang)) {
			continue
		}
		fmt.Fprintf(w, "  - %s (%s) - %s\n", v.ID, v.Language, v.Description)
	}

	fmt.Fprintln(w)
	if !sess.local.Available() {
		fmt.Fprintln(w, color.YellowString("No on-device speech engine found"))
		return nil
	}

	local, err := sess.local.Voices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list %s voices: %w", sess.local.EngineName(), err)
	}
	fmt.Fprintf(w, "%s\n", heading(fmt.Sprintf("On-device voices (%s):", sess.local.EngineName())))
	if lang != "" {
		if v := speech.SelectVoice(local, lang); v != nil {
			fmt.Fprintf(w, "  - %s (%s) %s\n", v.ID, v.Locale, color.GreenString("selected for %s", lang))
		}
		return nil
	}
	for _, v := range local {
		fmt.Fprintf(w, "  - %s (%s)\n", v.ID, v.Locale)
	}
	return nil
}
