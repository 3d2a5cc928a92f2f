package vm

// ---------------------------------------------------------------------------
// Bootstrap: the Core package and its self-describing classes
// ---------------------------------------------------------------------------

// CorePackageName is the native package holding the built-in classes.
const CorePackageName = "Core"

// bootstrap installs Core and the classes Object, Struct, Class and Package.
// The classes describe each other, so they are installed with no class and
// patched once all four exist.
func (rt *Runtime) bootstrap() {
	const typeFlags = FlagNative | FlagPermanent | FlagPublic | FlagStandalone

	core := &Package{PackageFlags: PkgNative}
	objectClass := &Class{factory: func() Obj { return &Object{} }}
	structClass := &Class{factory: func() Obj { return &Struct{} }}
	classClass := &Class{factory: func() Obj { return &Class{} }}
	packageClass := &Class{factory: func() Obj { return &Package{} }}

	must := func(err error) {
		if err != nil {
			panic(fatalf("bootstrap: %v", err))
		}
	}
	must(rt.install(core, nil, nil, rt.Names.InternPermanent(CorePackageName), typeFlags, nil))

	types := []struct {
		c     *Class
		name  string
		super *Class
	}{
		{objectClass, "Object", nil},
		{structClass, "Struct", objectClass},
		{classClass, "Class", structClass},
		{packageClass, "Package", objectClass},
	}
	for _, t := range types {
		must(rt.install(t.c, nil, core, rt.Names.InternPermanent(t.name), typeFlags, nil))
		t.c.ClassFlags = ClassNative
		t.c.StructFlags = StructNative
		if t.super != nil {
			t.c.Super = &t.super.Struct
		}
		t.c.Link(true)
	}

	core.class = packageClass
	core.props = NewBlock(packageClass.PropertiesSize)
	for _, t := range types {
		t.c.class = classClass
		t.c.props = NewBlock(classClass.PropertiesSize)
	}

	rt.core = coreTypes{
		Package:      core,
		Object:       objectClass,
		Struct:       structClass,
		Class:        classClass,
		PackageClass: packageClass,
	}

	for _, t := range types {
		rt.Names.InternPermanent(DefaultObjectName(t.name))
		must(rt.createDefaultObject(t.c, FlagNative|FlagPermanent))
	}
}
