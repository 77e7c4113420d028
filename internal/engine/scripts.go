package engine

// pdf2zhBridgeScript translates one PDF with pdf2zh.
//
// Usage: bridge.py <input.pdf> <params.json> <output_dir>
// Writes mono.pdf and dual.pdf into output_dir. Errors go to stderr with a
// non-zero exit status.
const pdf2zhBridgeScript = `#!/usr/bin/env python3
# -*- coding: utf-8 -*-
"""Bridge between the Go translation service and pdf2zh."""
import json
import os
import sys
from string import Template


def load_model(params):
    if not params.get("layout_model") or not params.get("model_path"):
        return None
    from pdf2zh.doclayout import OnnxModel
    try:
        return OnnxModel(params["model_path"])
    except Exception as e:
        print(f"layout model load failed, using pdf2zh default: {e}", file=sys.stderr)
        return None


def main():
    if len(sys.argv) != 4:
        print("Usage: bridge.py <input.pdf> <params.json> <output_dir>", file=sys.stderr)
        return 2

    input_pdf, params_path, output_dir = sys.argv[1:4]
    with open(params_path, "r", encoding="utf-8") as f:
        params = json.load(f)

    try:
        from pdf2zh.high_level import translate_stream
    except ImportError:
        print("pdf2zh is not installed", file=sys.stderr)
        return 1

    with open(input_pdf, "rb") as f:
        stream = f.read()

    kwargs = {
        "stream": stream,
        "lang_in": params["lang_in"],
        "lang_out": params["lang_out"],
        "service": params["service"],
        "thread": int(params["thread"]),
    }
    model = load_model(params)
    if model is not None:
        kwargs["model"] = model
    if params.get("prompt"):
        kwargs["prompt"] = Template(params["prompt"])

    mono, dual = translate_stream(**kwargs)
    if not mono or not dual:
        print("pdf2zh returned an empty document", file=sys.stderr)
        return 1

    with open(os.path.join(output_dir, "mono.pdf"), "wb") as f:
        f.write(mono)
    with open(os.path.join(output_dir, "dual.pdf"), "wb") as f:
        f.write(dual)
    return 0


if __name__ == "__main__":
    try:
        sys.exit(main())
    except Exception as e:
        print(f"{type(e).__name__}: {e}", file=sys.stderr)
        sys.exit(1)
`
