// Command wapairdemo drives one device-pairing attempt against a relay
// and prints the resulting QR code to the terminal, the way the teacher's
// cmd/gensphinx prints a geometry description with qrterminal. It exists
// to exercise session.Client and pairing.Machine end to end outside of a
// test binary; it is not a general-purpose client.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"
	"gopkg.in/op/go-logging.v1"

	"github.com/at1559/WhatsappWeb4j/crypto"
	"github.com/at1559/WhatsappWeb4j/pairing"
	"github.com/at1559/WhatsappWeb4j/session"
	"github.com/at1559/WhatsappWeb4j/walog"
	"github.com/at1559/WhatsappWeb4j/wametrics"
	"github.com/at1559/WhatsappWeb4j/wap"
)

const protocolVersion = 3

// demoListener prints progress as session.Client drives pairing.Machine
// internally, standing in for whatever UI layer a real application would
// have. It no longer touches the machine itself — the session core owns
// that end to end (spec §4.5).
type demoListener struct {
	client *session.Client
	logger *logging.Logger
	done   chan error
}

func (l *demoListener) OnLoggedIn() {
	l.logger.Info("logged in")
	if l.client.ShouldUploadPreKeys() {
		l.logger.Info("pre-key upload would be sent here")
	}
}

func (l *demoListener) OnDisconnect(cause error) {
	l.logger.Warningf("disconnected: %v", cause)
	select {
	case l.done <- cause:
	default:
	}
}

func (l *demoListener) OnPairDeviceQR(qrText string) {
	fmt.Println("\nScan this code with the companion app:")
	qrterminal.GenerateWithConfig(qrText, qrterminal.Config{
		Level:      qrterminal.L,
		Writer:     os.Stdout,
		HalfBlocks: true,
		QuietZone:  1,
	})
}

func (l *demoListener) OnPaired(companionJID string) {
	l.logger.Infof("paired with %s", companionJID)
	select {
	case l.done <- nil:
	default:
	}
}

func (l *demoListener) OnPairingFailed(err error) {
	l.logger.Warningf("pairing failed: %v", err)
	select {
	case l.done <- err:
	default:
	}
}

func buildClientPayload(identity pairing.Identity) []byte {
	signedPreKey, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	random, err := crypto.NewSignRandom(crypto.Reader)
	if err != nil {
		panic(err)
	}
	sig, err := crypto.SignCurve25519(identity.IdentityKey.Priv, signedPreKey.Pub[:], random)
	if err != nil {
		panic(err)
	}

	reg := &wap.RegData{
		BuildHash:          wap.DefaultBuildHash(),
		Companion:          wap.CompanionProps{},
		RegistrationID:     1,
		KeyType:            wap.KeyTypeCurve25519,
		Identifier:         identity.IdentityKey.Pub,
		SignedPreKeyID:     1,
		SignedPreKeyPublic: signedPreKey.Pub,
		SignedPreKeySig:    sig,
	}

	payload := wap.ClientPayload{
		Username:  0,
		Passive:   false,
		UserAgent: wap.DefaultUserAgent(),
		WebInfo:   wap.DefaultWebInfo(),
		// Neither field carries a meaningful value for a web client per
		// spec §6; left at the wire default.
		ConnectType:   0,
		ConnectReason: 0,
		RegData:       reg,
	}
	return payload.MarshalBinary()
}

func run(relayURL string, logLevel string) error {
	logBackend, err := walog.New("", logLevel)
	if err != nil {
		return err
	}
	backend := logBackend.GetLogger("wapairdemo")

	noiseStatic, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	identityKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	identity := pairing.Identity{NoiseStatic: noiseStatic, IdentityKey: identityKey}

	companionKey := make([]byte, 32)
	if _, err := crypto.Reader.Read(companionKey); err != nil {
		return err
	}

	metrics := wametrics.New()
	machine := pairing.NewMachine(identity, companionKey, metrics)

	listener := &demoListener{logger: backend, done: make(chan error, 1)}
	client := session.NewClient(session.Config{
		URL:           relayURL,
		Version:       protocolVersion,
		Ephemeral:     ephemeral,
		NoiseStatic:   noiseStatic,
		ClientPayload: buildClientPayload(identity),
		Listener:      listener,
		Pairing:       machine,
		Metrics:       metrics,
		Logger:        backend,
	})
	listener.client = client

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect(context.Background())

	select {
	case err := <-listener.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRootCommand() *cobra.Command {
	var relayURL string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "wapairdemo",
		Short: "Pair a new device against a relay and print the QR code",
		Long: `wapairdemo connects to a relay, runs the Noise handshake, and waits for
the server to request device pairing. Once requested, it prints a scannable
QR code built from this device's keys, mirroring the flow a companion app
drives to link a new web session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if relayURL == "" {
				return fmt.Errorf("must specify relay URL with -u/--url")
			}
			return run(relayURL, logLevel)
		},
	}

	cmd.Flags().StringVarP(&relayURL, "url", "u", "", "relay WebSocket URL (wss://...)")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "logging level (DEBUG, INFO, WARNING, ERROR)")
	cmd.MarkFlagRequired("url")

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
