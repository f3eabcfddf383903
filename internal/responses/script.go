/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package responses

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ScriptLine is one scripted question and the answer spoken in the cloned voice.
type ScriptLine struct {
	Question string `yaml:"question" toml:"question"`
	Answer   string `yaml:"answer" toml:"answer"`
	// MockAudio is the file under /uploads/ used when no provider is configured
	MockAudio string `yaml:"mock_audio,omitempty" toml:"mock_audio,omitempty"`
}

// Script is the ordered batch rendered after every successful clone.
type Script struct {
	Lines []ScriptLine `yaml:"responses" toml:"responses"`
}

// DefaultScript is the built-in Russian conversation.
func DefaultScript() Script {
	return Script{Lines: []ScriptLine{
		{
			Question:  "Как дела?",
			Answer:    "Да всё прекрасно, спасибо большое что спросил! А у тебя как успехи? Готов пообщаться и поделиться мыслями.",
			MockAudio: "mock-response-1.mp3",
		},
		{
			Question:  "Расскажи историю",
			Answer:    "Знаешь, недавно я узнал одну удивительную историю про то, как искусственный интеллект научился копировать человеческие голоса... Представляешь, теперь можно услышать свой собственный голос, говорящий совершенно разные вещи! Это же фантастика какая-то.",
			MockAudio: "mock-response-2.mp3",
		},
		{
			Question:  "Что делаешь?",
			Answer:    "Да вот, общаюсь с тобой сейчас, и мне это действительно нравится! Всегда интересно узнать что-то новое от людей. А ты чем занимаешься? Может, расскажешь о своих планах?",
			MockAudio: "mock-response-3.mp3",
		},
		{
			Question:  "Как настроение?",
			Answer:    "О, настроение просто отличное! Солнечное такое, позитивное настроение. А знаешь что? Мне кажется, хорошее настроение - это половина успеха в любом деле. Как твоё настроение, кстати?",
			MockAudio: "mock-response-4.mp3",
		},
		{
			Question:  "Расскажи анекдот",
			Answer:    "Ну слушай, вот тебе свежий анекдотик! Приходит программист к врачу и говорит: \"Доктор, у меня болит голова!\" Врач отвечает: \"Попробуйте перезагрузиться.\" Программист: \"Уже пробовал, не помогает.\" Врач: \"Тогда переустановите операционную систему!\" Ха-ха, смешно же!",
			MockAudio: "mock-response-5.mp3",
		},
	}}
}

// LoadScript reads a script from a YAML (.yaml, .yml) or TOML (.toml) file.
// An empty path returns DefaultScript.
func LoadScript(path string) (Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read script %s: %w", path, err)
	}

	var script Script
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &script)
	case ".toml":
		err = toml.Unmarshal(data, &script)
	default:
		return Script{}, fmt.Errorf("unsupported script format %q", filepath.Ext(path))
	}
	if err != nil {
		return Script{}, fmt.Errorf("failed to parse script %s: %w", path, err)
	}

	if err := script.normalize(); err != nil {
		return Script{}, fmt.Errorf("invalid script %s: %w", path, err)
	}
	return script, nil
}

// normalize validates lines and assigns default mock audio names.
func (s *Script) normalize() error {
	if len(s.Lines) == 0 {
		return errors.New("script has no responses")
	}
	for i := range s.Lines {
		line := &s.Lines[i]
		line.Question = strings.TrimSpace(line.Question)
		line.Answer = strings.TrimSpace(line.Answer)
		if line.Question == "" || line.Answer == "" {
			return fmt.Errorf("response %d: question and answer are required", i+1)
		}
		if line.MockAudio == "" {
			line.MockAudio = fmt.Sprintf("mock-response-%d.mp3", i+1)
		}
	}
	return nil
}
