// Package prompt asks the setup questions of a run on a line-based terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"chatblast/internal/messaging"
)

var ErrInvalidChoice = errors.New("invalid choice")

type MessageChoice int

const (
	ChoiceText MessageChoice = iota + 1
	ChoiceMedia
	ChoiceFromChat
)

func (c MessageChoice) String() string {
	switch c {
	case ChoiceText:
		return "Message Without Media"
	case ChoiceMedia:
		return "Message With Media"
	case ChoiceFromChat:
		return "Message From Chat"
	default:
		return "unknown"
	}
}

type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Ask prints question and returns the trimmed answer line. EOF after a
// partial line still returns that line.
func (p *Prompter) Ask(question string) (string, error) {
	if _, err := io.WriteString(p.out, question); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *Prompter) Say(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// IsTest asks whether this run is a test message; only "y" means yes.
func (p *Prompter) IsTest() (bool, error) {
	a, err := p.Ask("Is this a test message? (y/n): ")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(a, "y"), nil
}

func (p *Prompter) MessageType() (MessageChoice, error) {
	a, err := p.Ask("Select an option: \n1. Send Message Without Media\n2. Send Message With Media\n3. Select Message from Chat\nYour choice: ")
	if err != nil {
		return 0, err
	}
	switch a {
	case "1":
		return ChoiceText, nil
	case "2":
		return ChoiceMedia, nil
	case "3":
		return ChoiceFromChat, nil
	}
	return 0, fmt.Errorf("%w: message type %q", ErrInvalidChoice, a)
}

// Organization returns the filter; empty means no filter.
func (p *Prompter) Organization() (string, error) {
	return p.Ask("Enter the organization name to filter contacts (leave empty to skip): ")
}

// Count asks how many of the filtered contacts to process.
func (p *Prompter) Count(filtered int) (int, error) {
	a, err := p.Ask(fmt.Sprintf("Filtered %d contacts. How many do you want to process? ", filtered))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(a)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: please enter a positive integer, got %q", ErrInvalidChoice, a)
	}
	return n, nil
}

// ChooseConversation lists convs (1-based) and returns the picked one.
func (p *Prompter) ChooseConversation(convs []messaging.Conversation) (messaging.Conversation, error) {
	if len(convs) == 0 {
		return messaging.Conversation{}, fmt.Errorf("%w: no recent chats", ErrInvalidChoice)
	}
	p.Say("Select a chat from the last %d chats:", len(convs))
	for i, c := range convs {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		p.Say("%d. %s", i+1, name)
	}
	a, err := p.Ask("Your choice: ")
	if err != nil {
		return messaging.Conversation{}, err
	}
	n, err := strconv.Atoi(a)
	if err != nil || n < 1 || n > len(convs) {
		return messaging.Conversation{}, fmt.Errorf("%w: chat %q", ErrInvalidChoice, a)
	}
	return convs[n-1], nil
}
