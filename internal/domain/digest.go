package domain

import (
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// SpecDigest returns the content hash of an InstanceSpec: a change to any
// field that participates in canonicalWrite changes the digest, which is
// exactly what the Assembler (spec.md 4.3) compares against the store's
// recorded CurrentSpecDigest to classify an instance as noop vs update.
func SpecDigest(spec InstanceSpec) string {
	h := blake3.New()
	canonicalWrite(h, spec)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func canonicalWrite(w byteWriter, spec InstanceSpec) {
	fmt.Fprintf(w, "job=%s\nindex=%d\n", spec.Job, spec.Index)
	for _, t := range spec.Templates {
		fmt.Fprintf(w, "template=%s/%s\n", t.Release, t.Name)
	}
	fmt.Fprintf(w, "release_version=%s\n", spec.ReleaseVersion)
	fmt.Fprintf(w, "resource_pool=%s\n", spec.ResourcePool)
	fmt.Fprintf(w, "stemcell=%s/%s\n", spec.Stemcell.Name, spec.Stemcell.Version)
	networks := make([]string, len(spec.Networks))
	for i, n := range spec.Networks {
		networks[i] = string(n)
	}
	fmt.Fprintf(w, "networks=%s\n", strings.Join(networks, ","))
	fmt.Fprintf(w, "persistent_disk_mb=%d\n", spec.PersistentDiskMB)
	fmt.Fprintf(w, "properties=")
	canonicalWriteValue(w, spec.Properties)
	fmt.Fprintf(w, "\n")
}

// canonicalWriteValue serializes a Value deterministically: mapping keys
// are written in sorted order so two structurally equal trees always
// produce the same bytes regardless of map iteration order.
func canonicalWriteValue(w byteWriter, v Value) {
	switch v.Kind {
	case KindNull:
		fmt.Fprint(w, "null")
	case KindBool:
		fmt.Fprintf(w, "%v", v.Bool)
	case KindInt:
		fmt.Fprintf(w, "%d", v.Int)
	case KindFloat:
		fmt.Fprintf(w, "%g", v.Float)
	case KindString:
		fmt.Fprintf(w, "%q", v.Str)
	case KindSequence:
		fmt.Fprint(w, "[")
		for i, e := range v.Seq {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			canonicalWriteValue(w, e)
		}
		fmt.Fprint(w, "]")
	case KindMapping:
		fmt.Fprint(w, "{")
		for i, k := range v.SortedKeys() {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, "%q:", k)
			canonicalWriteValue(w, v.Mapping[k])
		}
		fmt.Fprint(w, "}")
	}
}
