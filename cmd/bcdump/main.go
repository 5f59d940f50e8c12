// bcdump dumps decoded structure from JVM class files, jars, and Android
// APKs: AndroidManifest.xml, resources.arsc, and classes.dex.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/avast/bytecodescan"
	"github.com/avast/bytecodescan/javaclass"
)

var log zerolog.Logger

// newScanID tags one bcdump invocation's log lines with a correlation id,
// so warnings from a multi-file scan (jar/apk with many failing entries)
// can be grepped back to the run that produced them.
func newScanID() string {
	return uuid.NewString()
}

func main() {
	verbose := false

	root := &cobra.Command{
		Use:   "bcdump",
		Short: "Dump decoded JVM/Dalvik/Android bytecode structures",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(level).
				With().Timestamp().Str("scan_id", newScanID()).Logger()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newClassCmd(),
		newJarCmd(),
		newApkCmd(),
		newDexCmd(),
		newManifestCmd(),
		newResourcesCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClassCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "class FILE",
		Short: "Disassemble a single .class file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cf, err := javaclass.ParseClassFile(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return javaclass.Disassemble(os.Stdout, cf)
		},
	}
}

func newJarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jar FILE",
		Short: "Disassemble every .class entry in a jar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zip, err := apkparser.OpenZip(args[0])
			if err != nil {
				return err
			}
			defer zip.Close()

			entries, err := apkparser.ParseJarWithZip(zip)
			if err != nil {
				return err
			}

			ok := 0
			for _, e := range entries {
				if e.Err != nil {
					log.Warn().Str("entry", e.Name).Err(e.Err).Msg("skipping class entry")
					continue
				}
				fmt.Printf("=== %s ===\n", e.Name)
				if err := javaclass.Disassemble(os.Stdout, e.Class); err != nil {
					log.Warn().Str("entry", e.Name).Err(err).Msg("disassemble failed")
					continue
				}
				ok++
			}
			log.Info().Int("total", len(entries)).Int("ok", ok).Msg("jar scan complete")
			return nil
		},
	}
}

func newApkCmd() *cobra.Command {
	var manifestOnly bool
	cmd := &cobra.Command{
		Use:   "apk FILE",
		Short: "Parse an APK: manifest, resources.arsc, and classesN.dex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zip, err := apkparser.OpenZip(args[0])
			if err != nil {
				return err
			}
			defer zip.Close()

			summaryBuilder := apkparser.NewManifestSummaryBuilder()
			parser, resErr := apkparser.NewParser(zip, summaryBuilder)
			if resErr != nil {
				log.Warn().Err(resErr).Msg("resources.arsc not available")
			}

			manifestErr := parser.ParseXml("AndroidManifest.xml")
			if manifestErr != nil {
				log.Warn().Err(manifestErr).Msg("AndroidManifest.xml not parsed")
			} else {
				printManifestSummary(summaryBuilder.Summary)
			}

			if manifestOnly {
				return nil
			}

			summary := parser.Summary(manifestErr)
			fmt.Printf("\ndex files: %d ok, %d failed\n", summary.DexCount, summary.DexFailureCount)
			for _, e := range parser.DexErr {
				log.Warn().Err(e).Msg("dex parse failed")
			}
			for i, dex := range parser.Dex {
				fmt.Printf("  classes%s.dex: %d classes, %d strings\n", dexSuffix(i), len(dex.Classes), len(dex.Strings))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&manifestOnly, "manifest-only", false, "print only the manifest summary (resources.arsc and dex files are still parsed)")
	return cmd
}

func dexSuffix(i int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprintf("%d", i+1)
}

func newDexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dex FILE",
		Short: "Parse a standalone classes.dex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			dex, err := apkparser.ParseDex(data)
			if err != nil {
				return err
			}
			fmt.Printf("strings: %d\n", len(dex.Strings))
			fmt.Printf("types: %d\n", len(dex.Types))
			fmt.Printf("classes: %d\n", len(dex.Classes))
			for _, cd := range dex.Classes {
				name, _ := dex.TypeName(cd.ClassIdx)
				super, _ := dex.SuperclassName(&cd)
				fmt.Printf("  %s extends %s\n", name, super)
			}
			return nil
		},
	}
}

func newManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest FILE",
		Short: "Decode a standalone AndroidManifest.xml (AXML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			b := apkparser.NewManifestSummaryBuilder()
			if err := apkparser.ParseXml(f, b, nil); err != nil {
				return err
			}
			printManifestSummary(b.Summary)
			return nil
		},
	}
}

func newResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources FILE",
		Short: "Decode a standalone resources.arsc",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			table, err := apkparser.ParseResourceTable(f)
			if err != nil {
				return err
			}
			fmt.Printf("resource table parsed: %d packages\n", table.PackageCount())
			return nil
		},
	}
}

func printManifestSummary(s apkparser.ManifestSummary) {
	fmt.Printf("package: %s\n", s.Package)
	fmt.Printf("versionCode: %s versionName: %s\n", s.VersionCode, s.VersionName)
	fmt.Printf("minSdk: %s targetSdk: %s\n", s.MinSdkVersion, s.TargetSdkVersion)
	fmt.Printf("uses-permission: %v\n", s.UsesPermissions)
	fmt.Printf("permission: %v\n", s.Permissions)
	fmt.Printf("activities: %d services: %d receivers: %d providers: %d\n",
		len(s.Application.Activities), len(s.Application.Services),
		len(s.Application.Receivers), len(s.Application.Providers))
}
