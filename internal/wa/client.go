package wa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/tcai793/datamanager/internal/remote"
)

type Options struct {
	StorePath string
	Log       zerolog.Logger
	// IdleExit ends history collection after this long without events.
	IdleExit time.Duration
	// DeviceName is shown in the phone's list of linked devices.
	DeviceName string
	// Platform is a DeviceProps platform name such as "chrome" or "desktop".
	Platform string
}

type Client struct {
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	client *whatsmeow.Client

	collectOnce sync.Once
	collectErr  error
	journal     *journal
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.StorePath) == "" {
		return nil, fmt.Errorf("StorePath is required")
	}
	if opts.IdleExit <= 0 {
		opts.IdleExit = 30 * time.Second
	}
	if strings.TrimSpace(opts.DeviceName) == "" {
		opts.DeviceName = "datamanager"
	}
	describeDevice(opts.DeviceName, opts.Platform)
	c := &Client{opts: opts, log: opts.Log.With().Str("component", "wa").Logger(), journal: newJournal()}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// describeDevice sets the companion properties sent when pairing. They are
// process-wide in whatsmeow.
func describeDevice(name, platform string) {
	name = strings.TrimSpace(name)
	store.DeviceProps.PlatformType = platformType(platform).Enum()
	store.SetOSInfo(name, [3]uint32{0, 1, 0})
	store.BaseClientPayload.UserAgent.Device = proto.String(name)
	store.BaseClientPayload.UserAgent.Manufacturer = proto.String(name)
}

// platformType maps a platform name to its enum. Unknown or empty names
// select desktop, since an archiver is neither a browser nor a phone.
func platformType(name string) waCompanionReg.DeviceProps_PlatformType {
	if v, ok := waCompanionReg.DeviceProps_PlatformType_value[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return waCompanionReg.DeviceProps_PlatformType(v)
	}
	return waCompanionReg.DeviceProps_DESKTOP
}

func (c *Client) init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()
	dbLog := waLog.Zerolog(c.log.With().Str("module", "database").Logger().Level(zerolog.ErrorLevel))
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", c.opts.StorePath), dbLog)
	if err != nil {
		return fmt.Errorf("open whatsmeow store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			deviceStore = container.NewDevice()
		} else {
			return fmt.Errorf("get device store: %w", err)
		}
	}

	c.client = whatsmeow.NewClient(deviceStore, waLog.Zerolog(c.log.With().Str("module", "client").Logger().Level(zerolog.WarnLevel)))
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) IsAuthed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.Store != nil && c.client.Store.ID != nil
}

type ConnectOptions struct {
	AllowQR  bool
	OnQRCode func(code string)
}

func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	cli := c.cli()
	if cli == nil {
		return fmt.Errorf("whatsapp client is not initialized")
	}

	if cli.IsConnected() {
		return nil
	}

	authed := cli.Store != nil && cli.Store.ID != nil
	if !authed && !opts.AllowQR {
		return fmt.Errorf("%w; run `datamanager auth`", remote.ErrNotAuthenticated)
	}

	var qrChan <-chan whatsmeow.QRChannelItem
	if !authed {
		ch, _ := cli.GetQRChannel(ctx)
		qrChan = ch
	}

	if err := cli.ConnectContext(ctx); err != nil {
		return err
	}

	if authed {
		return nil
	}

	// Wait for QR flow to succeed or fail.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed")
			}
			switch evt.Event {
			case "code":
				if opts.OnQRCode != nil {
					opts.OnQRCode(evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.M, os.Stdout)
				}
			case "success":
				return nil
			case "timeout":
				return fmt.Errorf("QR code timed out")
			case "error":
				return fmt.Errorf("QR error")
			}
		}
	}
}

func (c *Client) cli() *whatsmeow.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Reconnect loop helper.
func (c *Client) ReconnectWithBackoff(ctx context.Context, minDelay, maxDelay time.Duration) error {
	delay := minDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.Connect(ctx, ConnectOptions{AllowQR: false}); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) Logout(ctx context.Context) error {
	cli := c.cli()
	if cli == nil {
		return fmt.Errorf("not initialized")
	}
	return cli.Logout(ctx)
}

func (c *Client) allContacts(ctx context.Context) map[types.JID]types.ContactInfo {
	cli := c.cli()
	if cli == nil || cli.Store == nil || cli.Store.Contacts == nil {
		return nil
	}
	contacts, err := cli.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("load contacts")
		return nil
	}
	return contacts
}

func (c *Client) chatSettings(ctx context.Context, jid types.JID) types.LocalChatSettings {
	cli := c.cli()
	if cli == nil || cli.Store == nil || cli.Store.ChatSettings == nil {
		return types.LocalChatSettings{}
	}
	s, err := cli.Store.ChatSettings.GetChatSettings(ctx, jid)
	if err != nil {
		return types.LocalChatSettings{}
	}
	return s
}

func (c *Client) joinedGroups(ctx context.Context) map[types.JID]*types.GroupInfo {
	cli := c.cli()
	if cli == nil || !cli.IsConnected() {
		return nil
	}
	groups, err := cli.GetJoinedGroups(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("list joined groups")
		return nil
	}
	out := make(map[types.JID]*types.GroupInfo, len(groups))
	for _, g := range groups {
		out[g.JID] = g
	}
	return out
}

func BestContactName(info types.ContactInfo) string {
	if !info.Found {
		return ""
	}
	if s := strings.TrimSpace(info.FullName); s != "" {
		return s
	}
	if s := strings.TrimSpace(info.FirstName); s != "" {
		return s
	}
	if s := strings.TrimSpace(info.BusinessName); s != "" {
		return s
	}
	if s := strings.TrimSpace(info.PushName); s != "" && s != "-" {
		return s
	}
	if s := strings.TrimSpace(info.RedactedPhone); s != "" {
		return s
	}
	return ""
}

// isContact reports whether the user is saved in the address book, as
// opposed to only being known by push name.
func isContact(info types.ContactInfo) bool {
	return info.Found && (strings.TrimSpace(info.FullName) != "" || strings.TrimSpace(info.FirstName) != "")
}

// chatKind classifies a chat JID the way folder rules see it.
func chatKind(jid types.JID, group *types.GroupInfo) string {
	switch {
	case jid.Server == types.GroupServer:
		if group != nil && group.IsParent {
			return remote.KindMegagroup
		}
		return remote.KindGroup
	case jid.IsBroadcastList(), jid.Server == types.NewsletterServer, jid.Server == types.BroadcastServer:
		return remote.KindBroadcast
	case jid.Server == types.BotServer:
		return remote.KindBot
	default:
		return remote.KindUser
	}
}

// resolveChatName picks the best display name for a chat, falling back to
// the JID.
func resolveChatName(chat types.JID, convName string, group *types.GroupInfo, contact types.ContactInfo, pushName string) string {
	if group != nil {
		if name := strings.TrimSpace(group.GroupName.Name); name != "" {
			return name
		}
	}
	if name := strings.TrimSpace(convName); name != "" {
		return name
	}
	if name := BestContactName(contact); name != "" {
		return name
	}
	if name := strings.TrimSpace(pushName); name != "" && name != "-" {
		return name
	}
	return chat.String()
}
