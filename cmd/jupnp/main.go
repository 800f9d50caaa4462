// Command jupnp is a small UPnP control point and demo device: search
// the network, dump descriptors, or serve a demo MediaRenderer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joerg1985/jupnp/upnp"
	"github.com/joerg1985/jupnp/upnp/config"
	"github.com/joerg1985/jupnp/upnp/meta"
	"github.com/joerg1985/jupnp/upnp/registry"
	"github.com/joerg1985/jupnp/upnp/ssdp"
)

// Exit codes: 0 normal, 2 bind failure, 3 configuration error.
const (
	exitOK     = 0
	exitBind   = 2
	exitConfig = 3
)

var (
	configFile string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:          "jupnp",
		Short:        "UPnP device and control point",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(searchCmd(), describeCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSettings() config.Settings {
	settings, err := upnp.LoadSettings(configFile)
	if err != nil {
		log.Errorf("❌ %v", err)
		os.Exit(exitConfig)
	}
	return settings
}

func startStack(settings config.Settings) *upnp.Service {
	stack := upnp.New(settings)
	if err := stack.Startup(); err != nil {
		log.Errorf("❌ Cannot bind network: %v", err)
		os.Exit(exitBind)
	}
	return stack
}

func searchCmd() *cobra.Command {
	var target string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Discover devices on the network",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack := startStack(loadSettings())
			defer stack.Shutdown()

			stack.Registry.AddListener(&registry.Listener{
				RemoteDeviceAdded: func(rd *meta.RemoteDevice) {
					fmt.Printf("%-42s %-32s %s\n",
						rd.Identity.UDN,
						rd.Device.Details().FriendlyName,
						rd.Identity.DescriptorURL)
				},
			})

			if err := stack.Discovery.Search(target); err != nil {
				return err
			}
			time.Sleep(wait)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "st", ssdp.STAll, "search target")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to collect responses")
	return cmd
}

func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <location>",
		Short: "Fetch and print a device descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack := startStack(loadSettings())
			defer stack.Shutdown()

			found := make(chan *meta.RemoteDevice, 1)
			stack.Registry.AddListener(&registry.Listener{
				RemoteDeviceAdded: func(rd *meta.RemoteDevice) {
					select {
					case found <- rd:
					default:
					}
				},
			})

			msg := ssdp.NewDatagram(ssdp.KindResponse)
			msg.Headers.Set(ssdp.HeaderUSN, "uuid:pending::upnp:rootdevice")
			msg.Headers.Set(ssdp.HeaderLocation, args[0])
			msg.Headers.Set(ssdp.HeaderCacheControl, "max-age=1800")
			stack.Discovery.ProcessDatagram(msg)

			select {
			case rd := <-found:
				printDevice(rd.Device, "")
			case <-time.After(30 * time.Second):
				return fmt.Errorf("no descriptor retrieved from %s", args[0])
			}
			return nil
		},
	}
}

func printDevice(dev *meta.Device, indent string) {
	fmt.Printf("%s%s (%s)\n", indent, dev.Details().FriendlyName, dev.DeviceType())
	fmt.Printf("%s  UDN: %s\n", indent, dev.UDN())
	for svc := range dev.Services().All() {
		fmt.Printf("%s  service %s, %d action(s), %d variable(s)\n",
			indent, svc.ServiceType(), svc.Actions().Len(), svc.StateVariables().Len())
	}
	for _, child := range dev.EmbeddedDevices() {
		printDevice(child, indent+"  ")
	}
}

func serveCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a demo MediaRenderer device",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack := startStack(loadSettings())
			defer stack.Shutdown()

			dev, managers, err := demoRenderer(name)
			if err != nil {
				log.Errorf("❌ %v", err)
				os.Exit(exitConfig)
			}
			if err := stack.RegisterDevice(dev, managers); err != nil {
				log.Errorf("❌ %v", err)
				os.Exit(exitConfig)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "jupnp Renderer", "friendly name")
	return cmd
}
