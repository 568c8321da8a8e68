package app

import (
	"context"
	"fmt"
	"time"

	"haine/internal/model"
	"haine/internal/service/updates"
	"haine/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const retryDelay = time.Second

type App struct {
	app     *tview.Application
	chatbox *tview.TextView
	input   *tview.InputField

	client  *Client
	session *Session
	peer    *UserInfo
	cursor  updates.Cursor

	cancel context.CancelFunc
}

func NewApp(client *Client) *App {
	return &App{
		app:    tview.NewApplication(),
		client: client,
	}
}

// Run signs in, starts the key exchange with peerID and blocks in the UI
// until the user quits.
func (c *App) Run(ctx context.Context, name, password string, peerID int64) error {
	ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	if err := c.signIn(ctx, name, password); err != nil {
		return err
	}

	peer, err := c.client.User(ctx, peerID)
	if err != nil {
		return err
	}
	c.peer = peer

	if err := c.startExchange(ctx); err != nil {
		return err
	}

	return c.renderUI(ctx)
}

func (c *App) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.app.Stop()
}

// startExchange proposes our public value to the peer under the server's
// current DH parameters.
func (c *App) startExchange(ctx context.Context) error {
	p, g, err := c.client.DHParams(ctx)
	if err != nil {
		return err
	}

	c.session, err = NewSession(c.client.ID(), c.peer.ID, p, g)
	if err != nil {
		return err
	}
	return c.client.Commit(ctx, p, g, c.session.Public(), c.peer.ID)
}

// blocking function
func (c *App) renderUI(ctx context.Context) error {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.peer.Name))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(msg string) {
			if err := c.SendMessage(context.Background(), msg); err != nil {
				c.printf("[red]send failed: %v[-]\n", err)
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	c.printf("[gray]waiting for %s to complete the key exchange...[-]\n", c.peer.Name)
	go c.pollLoop(ctx)
	return c.app.SetRoot(layout, true).SetFocus(c.input).Run()
}

func (c *App) printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	c.app.QueueUpdateDraw(func() {
		fmt.Fprint(c.chatbox, line)
		c.chatbox.ScrollToEnd()
	})
}

// pollLoop long-polls until ctx is done. Our own messages are shown when
// they come back from the server, so the chat reflects the server order.
func (c *App) pollLoop(ctx context.Context) {
	for ctx.Err() == nil {
		upd, err := c.client.Poll(ctx, c.cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug("poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		c.handleUpdates(ctx, upd)
		c.cursor = c.cursor.Advance(upd)
	}
}

func (c *App) handleUpdates(ctx context.Context, upd *model.Updates) {
	wasReady := c.session.Ready()
	for _, ex := range upd.Exchanges {
		respond, err := c.session.Observe(ex)
		if err != nil {
			c.printf("[red]bad key exchange from %s: %v[-]\n", c.peer.Name, err)
			continue
		}
		if respond {
			if err := c.client.Commit(ctx, ex.P, ex.G, c.session.Public(), c.peer.ID); err != nil {
				c.printf("[red]answering key exchange failed: %v[-]\n", err)
			}
		}
	}
	if !wasReady && c.session.Ready() {
		c.printf("[gray]secure channel with %s established[-]\n", c.peer.Name)
	}

	for _, m := range upd.Messages {
		if m.PeerID != c.peer.ID {
			continue
		}
		c.ReceiveMessage(m)
	}
}

func (c *App) SendMessage(ctx context.Context, msg string) error {
	sealed, err := c.session.Encrypt(msg)
	if err != nil {
		return err
	}
	_, err = c.client.Send(ctx, c.peer.ID, sealed)
	return err
}

func (c *App) ReceiveMessage(m model.MessageView) {
	text, err := c.session.Decrypt(m)
	if err != nil {
		log.Debug("cannot decrypt message", zap.Int64("id", m.ID), zap.Error(err))
		text = "[gray]<undecryptable>[-]"
	} else {
		text = tview.Escape(text)
	}

	if m.Out {
		c.printf("[yellow]You:[-] %s\n", text)
		return
	}
	c.printf("[green]%s:[-] %s\n", tview.Escape(c.peer.Name), text)
}
