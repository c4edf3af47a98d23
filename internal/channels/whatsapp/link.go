package whatsapp

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/roelfdiedericks/clawgate/internal/paths"
)

// LinkDevice performs QR code pairing for a new WhatsApp device.
// Displays the QR code in the terminal and waits for the user to scan it.
func LinkDevice() error {
	dbPath, err := paths.WhatsAppDBPath()
	if err != nil {
		return fmt.Errorf("failed to resolve db path: %w", err)
	}

	container, err := openContainer(dbPath)
	if err != nil {
		return err
	}

	// Remove stale device entries from previous pairing attempts.
	// GetFirstDevice would otherwise return an old invalidated session,
	// causing 401 errors when the gateway tries to connect.
	oldDevices, err := container.GetAllDevices(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list existing devices: %w", err)
	}
	for _, d := range oldDevices {
		jid := "(unknown)"
		if d.ID != nil {
			jid = d.ID.String()
		}
		fmt.Printf("Removing stale device: %s\n", jid)
		_ = d.Delete(context.Background())
	}

	device := container.NewDevice()
	client := whatsmeow.NewClient(device, &waLogger{module: "client"})

	// The QR "success" event only means the scan was accepted — the client
	// still needs to complete initial sync. Disconnecting before Connected
	// fires leaves the pairing incomplete.
	connectedCh := make(chan struct{}, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connectedCh <- struct{}{}:
			default:
			}
		}
	})

	qrChan, err := client.GetQRChannel(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	fmt.Println("Scan the QR code below with your WhatsApp app:")
	fmt.Println("  WhatsApp > Settings > Linked Devices > Link a Device")
	fmt.Println()

	for item := range qrChan {
		switch item.Event {
		case "code":
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			fmt.Println()
			fmt.Println("Waiting for scan...")
		case "success":
			fmt.Println("\nScan accepted, completing initial sync...")
			select {
			case <-connectedCh:
			case <-time.After(30 * time.Second):
				client.Disconnect()
				return fmt.Errorf("timed out waiting for initial sync — try again")
			}
			fmt.Printf("Paired successfully! JID: %s\n", client.Store.ID)
			fmt.Println("You can now enable WhatsApp in clawgate.json and start the gateway.")
			client.Disconnect()
			return nil
		case "timeout":
			client.Disconnect()
			return fmt.Errorf("QR code expired — run the command again")
		default:
			client.Disconnect()
			return fmt.Errorf("pairing failed: %s", item.Event)
		}
	}

	client.Disconnect()
	return fmt.Errorf("QR channel closed unexpectedly")
}

// UnlinkDevice removes the stored WhatsApp session, requiring re-pairing.
func UnlinkDevice() error {
	dbPath, err := paths.WhatsAppDBPath()
	if err != nil {
		return fmt.Errorf("failed to resolve db path: %w", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no WhatsApp session found (no %s)", dbPath)
	}

	container, err := openContainer(dbPath)
	if err != nil {
		return err
	}

	devices, err := container.GetAllDevices(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no paired devices found")
	}

	for _, device := range devices {
		jid := "(unknown)"
		if device.ID != nil {
			jid = device.ID.String()
		}
		if err := device.Delete(context.Background()); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", jid, err)
		}
		fmt.Printf("Removed device: %s\n", jid)
	}

	fmt.Println("WhatsApp session cleared. Run 'clawgate whatsapp link' to re-pair.")
	return nil
}

// DeviceStatus shows the current WhatsApp pairing status.
func DeviceStatus() error {
	dbPath, err := paths.WhatsAppDBPath()
	if err != nil {
		return fmt.Errorf("failed to resolve db path: %w", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Status: Not paired (no session database)")
		return nil
	}

	container, err := openContainer(dbPath)
	if err != nil {
		return err
	}

	devices, err := container.GetAllDevices(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("Status: Not paired")
		fmt.Println("Run 'clawgate whatsapp link' to pair a device.")
		return nil
	}

	for _, device := range devices {
		fmt.Printf("Status: Paired\n")
		fmt.Printf("  JID: %s\n", device.ID)
	}
	return nil
}
