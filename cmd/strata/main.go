// Strata CLI - inspects and verifies saved packages
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/strata/manifest"
	"github.com/chazu/strata/store"
	"github.com/chazu/strata/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 quiet, 1 info, 2 debug)")
	dir := flag.String("C", ".", "Directory to search for strata.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: strata [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list                  List the packages in the store\n")
		fmt.Fprintf(os.Stderr, "  dump <package>        Print the summary and tables of a package\n")
		fmt.Fprintf(os.Stderr, "  verify <package>...   Load packages and report what they hold\n")
		fmt.Fprintf(os.Stderr, "  gc [package...]       Load packages and run a collection\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default(*dir)
	}
	if *verbosity > m.Log.Verbosity {
		m.Log.Verbosity = *verbosity
	}
	m.ConfigureLog()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		err = handleList(m)
	case "dump":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: strata dump <package>")
			os.Exit(2)
		}
		err = handleDump(m, args[1])
	case "verify":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: strata verify <package>...")
			os.Exit(2)
		}
		err = handleVerify(m, args[1:])
	case "gc":
		err = handleGC(m, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleList(m *manifest.Manifest) error {
	s, closeStore, err := m.OpenStore()
	if err != nil {
		return err
	}
	defer closeStore()

	lister, ok := s.(store.Lister)
	if !ok {
		return fmt.Errorf("store kind %q cannot list packages", m.Store.Kind)
	}
	names, err := lister.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func handleDump(m *manifest.Manifest, name string) error {
	s, closeStore, err := m.OpenStore()
	if err != nil {
		return err
	}
	defer closeStore()

	data, err := s.Open(name)
	if err != nil {
		return err
	}
	rt := vm.NewRuntime(vm.Options{})
	l, err := vm.OpenLinker(rt, data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	sum := &l.Summary
	fmt.Printf("Package %s (%d bytes)\n", name, len(data))
	fmt.Printf("  Version:     %d\n", sum.Version)
	fmt.Printf("  Flags:       %#x\n", uint32(sum.Flags))
	fmt.Printf("  GUID:        %s\n", sum.GUID)
	for i, g := range sum.Generations {
		fmt.Printf("  Generation %d: %d exports, %d names\n", i, g.ExportCount, g.NameCount)
	}

	fmt.Printf("\nNames (%d):\n", len(l.Names))
	for i, n := range l.Names {
		fmt.Printf("  %4d  %s\n", i, rt.Names.String(n))
	}

	fmt.Printf("\nImports (%d):\n", len(l.Imports))
	for i := range l.Imports {
		imp := &l.Imports[i]
		fmt.Printf("  %4d  %-40s %s.%s\n", i, l.ImportPath(i),
			rt.Names.String(imp.ClassPackage), rt.Names.String(imp.ClassName))
	}

	fmt.Printf("\nExports (%d):\n", len(l.Exports))
	for i := range l.Exports {
		e := &l.Exports[i]
		if e.IsPlaceholder() {
			fmt.Printf("  %4d  %-40s (removed)\n", i, rt.Names.String(e.ObjectName))
			continue
		}
		fmt.Printf("  %4d  %-40s class=%s", i, l.ExportPath(i), l.IndexPath(e.ClassIndex))
		if e.SuperIndex != 0 {
			fmt.Printf(" super=%s", l.IndexPath(e.SuperIndex))
		}
		if e.ArchetypeIndex != 0 {
			fmt.Printf(" archetype=%s", l.IndexPath(e.ArchetypeIndex))
		}
		fmt.Printf(" flags=%s offset=%d size=%d\n", e.Flags, e.SerialOffset, e.SerialSize)
		for _, d := range l.Depends[i] {
			fmt.Printf("          depends %s\n", l.IndexPath(d))
		}
	}
	return nil
}

func handleVerify(m *manifest.Manifest, names []string) error {
	rt, closeStore, err := m.NewRuntime()
	if err != nil {
		return err
	}
	defer closeStore()

	for _, name := range names {
		pkg, err := rt.LoadPackage(name)
		if err != nil {
			return err
		}
		contents := pkg.Contents()
		fmt.Printf("%s: %d objects, guid %s\n", pkg.NameString(), len(contents), pkg.GUID)
		for _, o := range contents {
			b := o.Base()
			fmt.Printf("  %-40s %-24s %016x\n", b.PathName(), b.Class().PathName(), rt.Checksum(o))
		}
	}
	fmt.Printf("%d live objects\n", rt.NumObjects())
	return nil
}

func handleGC(m *manifest.Manifest, names []string) error {
	rt, closeStore, err := m.NewRuntime()
	if err != nil {
		return err
	}
	defer closeStore()

	for _, name := range names {
		if _, err := rt.LoadPackage(name); err != nil {
			return err
		}
	}
	stats, err := rt.Collect()
	if err != nil {
		return err
	}
	commonlog.GetLogger("strata").Infof("collection took %s", stats.Duration)
	fmt.Printf("Objects:   %d\n", stats.Objects)
	fmt.Printf("Roots:     %d (%d protected)\n", stats.Roots, stats.Protected)
	fmt.Printf("Reached:   %d\n", stats.Reached)
	fmt.Printf("Swept:     %d\n", stats.Swept)
	fmt.Printf("Names:     %d purged\n", stats.NamesPurged)
	if stats.InvalidRefs > 0 {
		fmt.Printf("Cleared:   %d stale references\n", stats.InvalidRefs)
	}
	return nil
}
