package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/docmill/docmill/pdfops"
)

func runPDF(ctx context.Context, args []string) error {
	if len(args) < 1 {
		pdfUsage()
		return errors.New("pdf: missing subcommand")
	}
	newLogger(envOr("DOCMILL_LOG_LEVEL", "info"))

	sub, rest := args[0], args[1:]
	switch sub {
	case "merge":
		return pdfMerge(rest)
	case "split":
		return pdfSplit(rest)
	case "rotate":
		return pdfRotate(rest)
	case "optimize":
		return pdfOptimize(rest)
	case "encrypt":
		return pdfEncrypt(rest)
	case "decrypt":
		return pdfDecrypt(rest)
	case "import":
		return pdfImport(rest)
	case "pagecount":
		return pdfPageCount(rest)
	default:
		pdfUsage()
		return fmt.Errorf("pdf: unknown subcommand %q", sub)
	}
}

func pdfUsage() {
	fmt.Fprint(os.Stderr, `usage: docmill pdf <subcommand> [flags] <files>

subcommands:
  merge      -out merged.pdf a.pdf b.pdf ...
  split      -pages 1-3,7 -out part.pdf in.pdf
  rotate     -degrees 90 [-pages 2,4] -out rotated.pdf in.pdf
  optimize   -out small.pdf in.pdf
  encrypt    -user pw [-owner pw] -out locked.pdf in.pdf
  decrypt    -password pw -out open.pdf in.pdf
  import     -out scans.pdf page1.png page2.jpg ...
  pagecount  in.pdf ...
`)
}

func pdfMerge(args []string) error {
	fs := flag.NewFlagSet("pdf merge", flag.ExitOnError)
	out := fs.String("out", "merged.pdf", "output file")
	fs.Parse(args)
	if fs.NArg() < 2 {
		return errors.New("pdf merge: need at least two input files")
	}
	if err := pdfops.Merge(fs.Args(), *out); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func pdfSplit(args []string) error {
	fs := flag.NewFlagSet("pdf split", flag.ExitOnError)
	pages := fs.String("pages", "", "page selection to keep, e.g. 1-3,7 (required)")
	out := fs.String("out", "", "output file (required)")
	fs.Parse(args)
	if fs.NArg() != 1 || *pages == "" || *out == "" {
		return errors.New("pdf split: usage: docmill pdf split -pages 1-3,7 -out part.pdf in.pdf")
	}
	if err := pdfops.Trim(fs.Arg(0), *out, *pages); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func pdfRotate(args []string) error {
	fs := flag.NewFlagSet("pdf rotate", flag.ExitOnError)
	degrees := fs.Int("degrees", 90, "clockwise rotation: 90, 180 or 270")
	pages := fs.String("pages", "", "page selection (default all pages)")
	out := fs.String("out", "", "output file (required)")
	fs.Parse(args)
	if fs.NArg() != 1 || *out == "" {
		return errors.New("pdf rotate: usage: docmill pdf rotate -degrees 90 -out rotated.pdf in.pdf")
	}
	if err := pdfops.Rotate(fs.Arg(0), *out, *degrees, *pages); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func pdfOptimize(args []string) error {
	fs := flag.NewFlagSet("pdf optimize", flag.ExitOnError)
	out := fs.String("out", "", "output file (required)")
	fs.Parse(args)
	if fs.NArg() != 1 || *out == "" {
		return errors.New("pdf optimize: usage: docmill pdf optimize -out small.pdf in.pdf")
	}
	if err := pdfops.Optimize(fs.Arg(0), *out); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func pdfEncrypt(args []string) error {
	fs := flag.NewFlagSet("pdf encrypt", flag.ExitOnError)
	user := fs.String("user", "", "user password (required)")
	owner := fs.String("owner", "", "owner password (defaults to the user password)")
	out := fs.String("out", "", "output file (required)")
	fs.Parse(args)
	if fs.NArg() != 1 || *user == "" || *out == "" {
		return errors.New("pdf encrypt: usage: docmill pdf encrypt -user pw -out locked.pdf in.pdf")
	}
	if err := pdfops.Encrypt(fs.Arg(0), *out, *user, *owner); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func pdfDecrypt(args []string) error {
	fs := flag.NewFlagSet("pdf decrypt", flag.ExitOnError)
	password := fs.String("password", "", "user or owner password (required)")
	out := fs.String("out", "", "output file (required)")
	fs.Parse(args)
	if fs.NArg() != 1 || *password == "" || *out == "" {
		return errors.New("pdf decrypt: usage: docmill pdf decrypt -password pw -out open.pdf in.pdf")
	}
	if err := pdfops.Decrypt(fs.Arg(0), *out, *password); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func pdfImport(args []string) error {
	fs := flag.NewFlagSet("pdf import", flag.ExitOnError)
	out := fs.String("out", "", "output file (required)")
	fs.Parse(args)
	if fs.NArg() < 1 || *out == "" {
		return errors.New("pdf import: usage: docmill pdf import -out scans.pdf page1.png page2.jpg")
	}
	if err := pdfops.ImagesToPDF(fs.Args(), *out); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func pdfPageCount(args []string) error {
	fs := flag.NewFlagSet("pdf pagecount", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("pdf pagecount: usage: docmill pdf pagecount in.pdf ...")
	}
	for _, f := range fs.Args() {
		n, err := pdfops.PageCount(f)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\n", f, n)
	}
	return nil
}
