package classfile

// sigScanner collects class names from field/method descriptors and generic
// signatures. It is tolerant: malformed input yields whatever names were
// recognised before the problem.
type sigScanner struct {
	s   string
	i   int
	out []string
}

// TypesIn returns the internal names of all classes mentioned in a
// descriptor or signature, in order of appearance (duplicates included).
func TypesIn(sig string) []string {
	sc := &sigScanner{s: sig}
	sc.top()
	return sc.out
}

func (sc *sigScanner) peek() byte {
	if sc.i >= len(sc.s) {
		return 0
	}
	return sc.s[sc.i]
}

func (sc *sigScanner) top() {
	if sc.peek() == '<' {
		sc.formalParams()
	}
	for sc.i < len(sc.s) {
		switch sc.peek() {
		case '(', ')', '^', 'V':
			sc.i++
		default:
			before := sc.i
			sc.fieldType()
			if sc.i == before {
				sc.i++
			}
		}
	}
}

func (sc *sigScanner) formalParams() {
	sc.i++ // '<'
	for c := sc.peek(); c != '>' && c != 0; c = sc.peek() {
		for c := sc.peek(); c != ':' && c != 0; c = sc.peek() {
			sc.i++
		}
		for sc.peek() == ':' {
			sc.i++
			switch sc.peek() {
			case 'L', 'T', '[':
				sc.fieldType()
			}
		}
	}
	if sc.peek() == '>' {
		sc.i++
	}
}

func (sc *sigScanner) fieldType() {
	switch sc.peek() {
	case 'L':
		sc.classType()
	case 'T':
		for c := sc.peek(); c != ';' && c != 0; c = sc.peek() {
			sc.i++
		}
		if sc.peek() == ';' {
			sc.i++
		}
	case '[':
		sc.i++
		sc.fieldType()
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V':
		sc.i++
	}
}

func (sc *sigScanner) ident() string {
	start := sc.i
	for {
		switch sc.peek() {
		case ';', '<', '.', 0:
			return sc.s[start:sc.i]
		}
		sc.i++
	}
}

func (sc *sigScanner) classType() {
	sc.i++ // 'L'
	name := sc.ident()
	sc.out = append(sc.out, name)
	if sc.peek() == '<' {
		sc.typeArgs()
	}
	for sc.peek() == '.' {
		sc.i++
		name = name + "$" + sc.ident()
		sc.out = append(sc.out, name)
		if sc.peek() == '<' {
			sc.typeArgs()
		}
	}
	if sc.peek() == ';' {
		sc.i++
	}
}

func (sc *sigScanner) typeArgs() {
	sc.i++ // '<'
	for c := sc.peek(); c != '>' && c != 0; c = sc.peek() {
		switch c {
		case '*':
			sc.i++
		case '+', '-':
			sc.i++
			sc.fieldType()
		default:
			before := sc.i
			sc.fieldType()
			if sc.i == before {
				sc.i++
			}
		}
	}
	if sc.peek() == '>' {
		sc.i++
	}
}

// classConstantTypes normalises a CONSTANT_Class name, which may be an array
// descriptor, into the class names it mentions.
func classConstantTypes(name string) []string {
	if name == "" {
		return nil
	}
	if name[0] == '[' {
		return TypesIn(name)
	}
	return []string{name}
}
